package build

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

var nextConfigTemplate = template.Must(template.New("next.config.js").Parse(
	`const basePath = process.env.EDWARD_BASE_PATH || "";
/** @type {import('next').NextConfig} */
module.exports = {
  basePath,
  assetPrefix: basePath || undefined,
};
`))

var viteConfigTemplate = template.Must(template.New("vite.config.js").Parse(
	`import { defineConfig } from "vite";

const base = process.env.EDWARD_BASE_PATH || "/";

export default defineConfig({
  base,
});
`))

// injectBasePath materializes a framework-specific config that reads
// EDWARD_BASE_PATH, overwriting whichever Next/Vite config file is present
// at the workspace root (spec §4.12 step 3). basePath itself always flows
// in as the EDWARD_BASE_PATH env var passed to the build exec; frameworks
// without a recognized config file rely on that env var alone.
func (p *Pipeline) injectBasePath(ctx context.Context, containerID, workdir string, entries map[string]bool) error {
	var name string
	var tmpl *template.Template

	switch {
	case entries["next.config.js"] || entries["next.config.mjs"] || entries["next.config.ts"]:
		name, tmpl = pickConfigName(entries, "next.config.js", "next.config.mjs", "next.config.ts"), nextConfigTemplate
	case entries["vite.config.js"] || entries["vite.config.ts"]:
		name, tmpl = pickConfigName(entries, "vite.config.js", "vite.config.ts"), viteConfigTemplate
	default:
		return nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	return p.writeFile(ctx, containerID, workdir+"/"+name, buf.Bytes())
}

func pickConfigName(entries map[string]bool, candidates ...string) string {
	for _, c := range candidates {
		if entries[c] {
			return c
		}
	}
	return candidates[0]
}
