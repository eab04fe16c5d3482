package types

// FileNode is one entry of the sandbox file tree, as reported to observers
// after a file action or a watched change.
type FileNode struct {
	// Path is slash-separated and relative to the sandbox root.
	Path  string `json:"path" yaml:"path"`
	IsDir bool   `json:"is_dir" yaml:"is_dir"`
}
