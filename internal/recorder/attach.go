package recorder

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Attach wires a browsing surface into the recorder: page events flow through
// a CDP binding into Capture. Events arriving while not recording are dropped
// by Capture itself, so Attach can happen once at start-up.
func (r *Recorder) Attach(ctx context.Context, surface schemas.BindingSurface) error {
	r.mu.Lock()
	binding := r.cfg.BindingName
	r.mu.Unlock()

	if err := surface.ExposeBinding(ctx, binding, r.HandlePayload); err != nil {
		return fmt.Errorf("failed to expose recorder binding: %w", err)
	}
	if err := surface.InjectScriptPersistently(ctx, listenerScript(binding)); err != nil {
		return fmt.Errorf("failed to inject recorder listener: %w", err)
	}
	r.logger.Info("Recorder attached to surface.", zap.String("surface_id", surface.ID()), zap.String("binding", binding))
	return nil
}

// HandlePayload decodes one binding payload and captures it.
func (r *Recorder) HandlePayload(payload string) {
	var ev RawEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn("Malformed recorder payload.", zap.Error(err), zap.Int("length", len(payload)))
		return
	}
	r.Capture(ev)
}

func listenerScript(binding string) string {
	return strings.ReplaceAll(listenerTemplate, "__BINDING__", binding)
}

// listenerTemplate forwards DOM interactions as RawEvent JSON. Text input is
// reported on change, not per keystroke; scrolls are throttled.
const listenerTemplate = `(() => {
  if (window.__browzerListenerInstalled) { return; }
  window.__browzerListenerInstalled = true;

  const send = (ev) => {
    const fn = window["__BINDING__"];
    if (typeof fn !== "function") { return; }
    ev.timestamp = Date.now();
    ev.url = String(location.href);
    try { fn(JSON.stringify(ev)); } catch (e) {}
  };

  const implicitRole = (el) => {
    const tag = el.tagName.toLowerCase();
    const type = (el.getAttribute("type") || "").toLowerCase();
    if (tag === "button") return "button";
    if (tag === "a" && el.hasAttribute("href")) return "link";
    if (tag === "select") return "combobox";
    if (tag === "option") return "option";
    if (tag === "textarea") return "textbox";
    if (tag === "input") {
      if (type === "checkbox") return "checkbox";
      if (type === "radio") return "radio";
      if (type === "submit" || type === "button" || type === "reset") return "button";
      return "textbox";
    }
    return "";
  };

  const accessibleName = (el) => {
    const label = el.getAttribute("aria-label");
    if (label) return label;
    const by = el.getAttribute("aria-labelledby");
    if (by) {
      const ref = document.getElementById(by);
      if (ref) return ref.innerText || ref.textContent || "";
    }
    if (el.labels && el.labels.length) return el.labels[0].innerText || "";
    const text = (el.innerText || el.textContent || "").trim();
    if (text) return text.slice(0, 200);
    return el.getAttribute("placeholder") || el.getAttribute("title") || el.getAttribute("alt") || "";
  };

  const selectorFor = (el) => {
    if (el.id) return "#" + CSS.escape(el.id);
    const name = el.getAttribute("name");
    if (name) return el.tagName.toLowerCase() + '[name="' + name.replace(/"/g, '\\"') + '"]';
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && parts.length < 5) {
      let part = node.tagName.toLowerCase();
      const parent = node.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter((c) => c.tagName === node.tagName);
        if (same.length > 1) part += ":nth-of-type(" + (same.indexOf(node) + 1) + ")";
      }
      parts.unshift(part);
      if (node.id) { parts[0] = "#" + CSS.escape(node.id); break; }
      node = parent;
    }
    return parts.join(" > ");
  };

  const describe = (el) => {
    if (!el || el.nodeType !== 1) return null;
    const attributes = {};
    for (let i = 0; i < el.attributes.length && i < 30; i++) {
      const a = el.attributes[i];
      attributes[a.name] = a.value;
    }
    return {
      tag: el.tagName.toLowerCase(),
      role: el.getAttribute("role") || implicitRole(el),
      name: accessibleName(el),
      value: typeof el.value === "string" ? el.value : "",
      selector: selectorFor(el),
      attributes: attributes
    };
  };

  const interactive = (el) => el && el.closest
    ? (el.closest('button, a[href], input, select, textarea, option, [role], [onclick], [tabindex]') || el)
    : el;

  document.addEventListener("click", (e) => {
    const el = interactive(e.target);
    const tag = el && el.tagName ? el.tagName.toLowerCase() : "";
    const type = el && el.getAttribute ? (el.getAttribute("type") || "").toLowerCase() : "";
    if (tag === "input" && (type === "checkbox" || type === "radio")) return;
    if (tag === "select") return;
    send({ type: "click", element: describe(el) });
  }, true);

  document.addEventListener("contextmenu", (e) => {
    send({ type: "context-menu", element: describe(interactive(e.target)) });
  }, true);

  document.addEventListener("change", (e) => {
    const el = e.target;
    if (!el || !el.tagName) return;
    const tag = el.tagName.toLowerCase();
    const type = (el.getAttribute("type") || "").toLowerCase();
    if (tag === "select") {
      send({ type: "select-change", element: describe(el), value: el.value });
    } else if (type === "checkbox") {
      send({ type: "checkbox-change", element: describe(el), checked: el.checked });
    } else if (type === "radio") {
      send({ type: "radio-change", element: describe(el), checked: el.checked, value: el.value });
    } else if (tag === "input" || tag === "textarea") {
      if (type === "password") {
        send({ type: "type", element: describe(el), value: "" });
      } else {
        send({ type: "type", element: describe(el), value: el.value });
      }
    }
  }, true);

  document.addEventListener("keydown", (e) => {
    const special = ["Enter", "Tab", "Escape", "Backspace", "Delete", "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "PageUp", "PageDown", "Home", "End"];
    const modified = e.ctrlKey || e.metaKey || e.altKey;
    if (!modified && special.indexOf(e.key) < 0) return;
    const keys = [];
    if (e.ctrlKey) keys.push("Control");
    if (e.metaKey) keys.push("Meta");
    if (e.altKey) keys.push("Alt");
    if (e.shiftKey) keys.push("Shift");
    if (["Control", "Meta", "Alt", "Shift"].indexOf(e.key) < 0) keys.push(e.key);
    send({ type: "key", element: describe(e.target), keys: keys });
  }, true);

  let scrollTimer = null;
  window.addEventListener("scroll", () => {
    if (scrollTimer) return;
    scrollTimer = setTimeout(() => {
      scrollTimer = null;
      send({ type: "scroll", scrollX: Math.round(window.scrollX), scrollY: Math.round(window.scrollY) });
    }, 250);
  }, { passive: true });

  document.addEventListener("visibilitychange", () => {
    if (document.visibilityState === "visible") send({ type: "tab-switch", value: document.title });
  });

  send({ type: "navigate", value: String(location.href) });
})();`
