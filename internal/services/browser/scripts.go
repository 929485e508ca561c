package browser

const findElementJS = `function(sel, isXPath) {
	if (isXPath) {
		return document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	return document.querySelector(sel);
}`

const selectOptionJS = `function(sel, isXPath, want) {
	const find = ` + findElementJS + `;
	let el = find(sel, isXPath);
	if (!el) return "missing";
	if (el.tagName !== "SELECT") {
		el = el.querySelector("select");
		if (!el) return "not-select";
	}
	const needle = String(want).trim().toLowerCase();
	const options = Array.from(el.options);
	let match = options.find(o => o.value.toLowerCase() === needle || o.text.trim().toLowerCase() === needle);
	if (!match && needle !== "") {
		match = options.find(o => o.text.toLowerCase().includes(needle));
	}
	if (!match) return "no-option";
	el.value = match.value;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return "ok";
}`

const elementCenterJS = `function(sel, isXPath) {
	const find = ` + findElementJS + `;
	const el = find(sel, isXPath);
	if (!el) return { x: 0, y: 0, found: false };
	const r = el.getBoundingClientRect();
	return { x: r.left + r.width / 2, y: r.top + r.height / 2, found: true };
}`

const visibleTextJS = `document.body ? document.body.innerText : ""`

const scrollBottomJS = `window.scrollTo(0, Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight))`
