package tools

// Browser-side snippets injected by the tool handlers. They are data shipped
// with the descriptors, kept here so the whole injected surface is auditable
// in one place. Every snippet is a self-contained arrow function.

const (
	// scriptScrollBy scrolls the viewport and reports the resulting position.
	scriptScrollBy = `(x, y) => {
		window.scrollBy(x, y);
		return { x: window.scrollX, y: window.scrollY };
	}`

	// scriptScrollTo jumps to an absolute position.
	scriptScrollTo = `(x, y) => {
		window.scrollTo(x, y);
		return { x: window.scrollX, y: window.scrollY };
	}`

	// scriptElementCSS reads computed style properties for an element.
	scriptElementCSS = `(props) => {
		const style = window.getComputedStyle(this);
		const out = {};
		for (const p of props) out[p] = style.getPropertyValue(p);
		return out;
	}`

	// scriptElementAttributes lists every attribute on an element.
	scriptElementAttributes = `() => {
		const out = {};
		for (const a of this.attributes) out[a.name] = a.value;
		return out;
	}`

	// scriptInjectTag appends a script tag and resolves when it loads.
	scriptInjectTag = `(src, content) => new Promise((resolve, reject) => {
		const tag = document.createElement('script');
		if (src) {
			tag.src = src;
			tag.onload = () => resolve(true);
			tag.onerror = () => reject(new Error('script tag failed to load: ' + src));
		} else {
			tag.textContent = content;
		}
		document.head.appendChild(tag);
		if (!src) resolve(true);
	})`

	// scriptStorageRead dumps localStorage or sessionStorage.
	scriptStorageRead = `(kind) => {
		const s = kind === 'session' ? sessionStorage : localStorage;
		const out = {};
		for (let i = 0; i < s.length; i++) {
			const k = s.key(i);
			out[k] = s.getItem(k);
		}
		return out;
	}`

	// scriptStorageWrite sets one key in localStorage or sessionStorage.
	scriptStorageWrite = `(kind, key, value) => {
		const s = kind === 'session' ? sessionStorage : localStorage;
		s.setItem(key, value);
		return s.length;
	}`

	// scriptStorageClear empties localStorage or sessionStorage.
	scriptStorageClear = `(kind) => {
		const s = kind === 'session' ? sessionStorage : localStorage;
		const n = s.length;
		s.clear();
		return n;
	}`

	// scriptRenderAnalysis summarizes paint and layout timing.
	scriptRenderAnalysis = `() => {
		const paints = {};
		for (const e of performance.getEntriesByType('paint')) {
			paints[e.name] = e.startTime;
		}
		const nav = performance.getEntriesByType('navigation')[0];
		return {
			paints,
			domContentLoaded: nav ? nav.domContentLoadedEventEnd : null,
			loadEvent: nav ? nav.loadEventEnd : null,
			domNodes: document.getElementsByTagName('*').length,
			layoutShifts: performance.getEntriesByType('layout-shift')
				.reduce((sum, e) => sum + e.value, 0),
		};
	}`

	// scriptPerformanceSample reads a point-in-time performance snapshot.
	scriptPerformanceSample = `() => ({
		now: performance.now(),
		resources: performance.getEntriesByType('resource').length,
		memory: performance.memory ? {
			usedJSHeapSize: performance.memory.usedJSHeapSize,
			totalJSHeapSize: performance.memory.totalJSHeapSize,
		} : null,
	})`

	// scriptMediaDetect finds every audio/video element on the page.
	scriptMediaDetect = `() => Array.from(document.querySelectorAll('video, audio')).map((el, i) => ({
		index: i,
		tag: el.tagName.toLowerCase(),
		src: el.currentSrc || el.src || null,
		duration: isFinite(el.duration) ? el.duration : null,
		width: el.videoWidth || null,
		height: el.videoHeight || null,
	}))`

	// scriptMediaState reads playback state for one media element.
	scriptMediaState = `(index) => {
		const els = document.querySelectorAll('video, audio');
		const el = els[index];
		if (!el) return null;
		return {
			paused: el.paused,
			ended: el.ended,
			muted: el.muted,
			currentTime: el.currentTime,
			duration: isFinite(el.duration) ? el.duration : null,
			volume: el.volume,
			playbackRate: el.playbackRate,
			readyState: el.readyState,
		};
	}`

	// scriptMediaControl drives one media element.
	scriptMediaControl = `(index, action, value) => {
		const els = document.querySelectorAll('video, audio');
		const el = els[index];
		if (!el) return false;
		switch (action) {
			case 'play': el.play(); break;
			case 'pause': el.pause(); break;
			case 'mute': el.muted = true; break;
			case 'unmute': el.muted = false; break;
			case 'seek': el.currentTime = value; break;
			case 'volume': el.volume = value; break;
		}
		return true;
	}`
)
