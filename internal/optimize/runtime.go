package optimize

import "bytes"

// RuntimeChunk is the name of the chunk holding the shared module runtime.
const RuntimeChunk = "runtime"

// ExtractRuntime strips prelude from every script file starting with it and
// returns it once as a file of its own. Nothing changes unless at least two
// script files carry the prelude.
func ExtractRuntime(files []File, prelude []byte) ([]File, *File) {
	if len(prelude) == 0 {
		return files, nil
	}

	carriers := 0
	for _, f := range files {
		if f.Ext() == ".js" && bytes.HasPrefix(f.Content, prelude) {
			carriers++
		}
	}
	if carriers < 2 {
		return files, nil
	}

	out := make([]File, len(files))
	for i, f := range files {
		if f.Ext() == ".js" && bytes.HasPrefix(f.Content, prelude) {
			f.Content = append([]byte(nil), f.Content[len(prelude):]...)
		}
		out[i] = f
	}

	runtime := &File{
		Chunk:   RuntimeChunk,
		Name:    RuntimeChunk + ".js",
		Content: append([]byte(nil), prelude...),
	}
	return out, runtime
}
