package build

import (
	"bytes"
	"context"
	"fmt"
)

// spaFallbackMarker guards against double-injection if a build is retried
// against output left over from a prior attempt.
const spaFallbackMarker = "<!-- edward-spa-fallback -->"

// spaFallbackScript is a tiny client-side redirect: when the browser lands
// on a path the static host 404s (no matching asset), it rewrites history
// to the deep-linked path after index.html loads, so client-side routers
// still see the originally requested URL.
const spaFallbackScript = spaFallbackMarker + `
<script>
  (function () {
    var target = sessionStorage.getItem("edward-spa-redirect");
    if (target) {
      sessionStorage.removeItem("edward-spa-redirect");
      history.replaceState(null, "", target);
    }
  })();
</script>
`

// injectSPAFallback appends the deep-link fallback script to index.html so
// the edge's "serve index.html for any missing asset" behavior (spec
// §4.13) still resolves client-side routes correctly (spec §4.12 edge
// policy). A no-op if already injected.
func (p *Pipeline) injectSPAFallback(ctx context.Context, containerID, indexPath string) error {
	body, err := p.readFile(ctx, containerID, indexPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", indexPath, err)
	}
	if bytes.Contains(body, []byte(spaFallbackMarker)) {
		return nil
	}

	const closingBody = "</body>"
	patched := body
	if idx := bytes.LastIndex(body, []byte(closingBody)); idx >= 0 {
		var buf bytes.Buffer
		buf.Write(body[:idx])
		buf.WriteString(spaFallbackScript)
		buf.Write(body[idx:])
		patched = buf.Bytes()
	} else {
		patched = append(body, []byte(spaFallbackScript)...)
	}

	return p.writeFile(ctx, containerID, indexPath, patched)
}
