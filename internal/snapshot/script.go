package snapshot

// collectScript gathers raw candidate data. All filtering and budgeting beyond
// the candidate cap happens in Go, so the script stays a dumb reader.
const collectScript = `(selector, maxCandidates) => {
  if (!document || !document.body) { return null; }
  const out = {
    url: String(location.href),
    title: String(document.title || ""),
    viewport: { width: window.innerWidth || 0, height: window.innerHeight || 0 },
    candidates: []
  };
  const nodes = document.querySelectorAll(selector);
  for (let i = 0; i < nodes.length && out.candidates.length < maxCandidates; i++) {
    const el = nodes[i];
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    const opacity = parseFloat(style.opacity);
    const attrs = [];
    for (let j = 0; j < el.attributes.length; j++) {
      const a = el.attributes[j];
      attrs.push([a.name, a.value]);
    }
    let text = "";
    try { text = (el.innerText || el.textContent || ""); } catch (e) {}
    out.candidates.push({
      tag: el.tagName.toLowerCase(),
      x: rect.x, y: rect.y, width: rect.width, height: rect.height,
      display: style.display,
      visibility: style.visibility,
      opacity: isNaN(opacity) ? 1 : opacity,
      disabled: el.disabled === true,
      ariaDisabled: el.getAttribute("aria-disabled") === "true",
      attrs: attrs,
      text: text.length > 400 ? text.slice(0, 400) : text
    });
  }
  return out;
}`

// interactiveSelector is the default candidate set.
const interactiveSelector = `button, a[href], input, textarea, select, ` +
	`[role="button"], [role="link"], [role="checkbox"], [role="radio"], [role="tab"], ` +
	`[role="menuitem"], [role="menuitemcheckbox"], [role="menuitemradio"], [role="option"], ` +
	`[role="combobox"], [role="textbox"], [role="searchbox"], [role="switch"], [role="slider"], ` +
	`[role="spinbutton"], [role="treeitem"], ` +
	`[contenteditable=""], [contenteditable="true"], [onclick], [tabindex], form`
