package build

import (
	"context"
	"fmt"
)

// detectOutputDir probes outputDirCandidates in order, falling back to "."
// when index.html sits at the workspace root (spec §4.12 step 5). An empty
// result means no buildable output could be located.
func (p *Pipeline) detectOutputDir(ctx context.Context, containerID, workdir string) (string, error) {
	for _, candidate := range outputDirCandidates {
		ok, err := p.dirExists(ctx, containerID, workdir+"/"+candidate)
		if err != nil {
			return "", fmt.Errorf("probe output dir %s: %w", candidate, err)
		}
		if ok {
			return candidate, nil
		}
	}

	ok, err := p.fileExists(ctx, containerID, workdir+"/index.html")
	if err != nil {
		return "", fmt.Errorf("probe workspace root for index.html: %w", err)
	}
	if ok {
		return ".", nil
	}

	return "", nil
}

// isSPAWithoutServerRouting reports whether outputDir looks like a static
// SPA bundle with no server-rendering framework backing it — an index.html
// at its root and no Next.js standalone server output.
func (p *Pipeline) isSPAWithoutServerRouting(ctx context.Context, containerID, workdir, outputDir string) (bool, error) {
	if outputDir == ".next/standalone" {
		return false, nil
	}
	return p.fileExists(ctx, containerID, workdir+"/"+outputDir+"/index.html")
}
