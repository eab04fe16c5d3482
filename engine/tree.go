package engine

import (
	"context"
	"path"

	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

// maxTreeEntries caps a file tree listing.
const maxTreeEntries = 10000

// FileTree lists the sandbox recursively in depth-first name order,
// skipping dependency and tooling directories.
func FileTree(ctx context.Context, sb sandbox.Sandbox) ([]types.FileNode, error) {
	var nodes []types.FileNode
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := sb.ReadDir(ctx, dir)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			if len(nodes) >= maxTreeEntries {
				return nil
			}
			if ent.IsDir && sandbox.SkipDir(ent.Name) {
				continue
			}
			p := path.Join(dir, ent.Name)
			nodes = append(nodes, types.FileNode{Path: p[1:], IsDir: ent.IsDir})
			if ent.IsDir {
				if err := walk(p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	return nodes, nil
}

// RefreshFileTree reports the current sandbox tree to the observer. It is
// called after every completed action and by watchers noticing external
// changes. It does nothing before the sandbox is ready.
func (e *Engine) RefreshFileTree(ctx context.Context) {
	select {
	case <-e.bootDone:
	default:
		return
	}
	if e.sb == nil {
		return
	}
	e.refreshTree(ctx, e.sb)
}

// Sandbox returns the booted sandbox, or nil before boot has succeeded.
func (e *Engine) Sandbox() sandbox.Sandbox {
	select {
	case <-e.bootDone:
		return e.sb
	default:
		return nil
	}
}

func (e *Engine) refreshTree(ctx context.Context, sb sandbox.Sandbox) {
	nodes, err := FileTree(ctx, sb)
	if err != nil {
		e.logger.Warn("failed to list file tree", map[string]any{"error": err.Error()})
		return
	}
	e.observer.SetFileTree(nodes)
}
