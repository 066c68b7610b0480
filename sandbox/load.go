package sandbox

import (
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

type sourceKind int

const (
	sourceText sourceKind = iota
	sourceFile
)

// Source is code to compile inside a sandbox.
type Source struct {
	kind    sourceKind
	payload string
}

// Text returns a Source holding code.
func Text(code string) Source {
	return Source{kind: sourceText, payload: code}
}

// File returns a Source read from path when it is compiled.
func File(path string) Source {
	return Source{kind: sourceFile, payload: path}
}

// Name is the chunk name used in error messages.
func (s Source) Name() string {
	if s.kind == sourceFile {
		return s.payload
	}
	return chunkName(s.payload)
}

func (s Source) compile(L *lua.LState) (*lua.LFunction, error) {
	if s.kind == sourceFile {
		if s.payload == "" {
			// the engine would read standard input
			return nil, &lua.ApiError{Type: lua.ApiErrorFile, Object: lua.LString("cannot open empty path")}
		}
		return L.LoadFile(s.payload)
	}
	return L.Load(strings.NewReader(s.payload), s.Name())
}

const chunkIDSize = 60

// chunkName renders code the way PUC Lua names string
// chunks: the first line, truncated, inside [string "..."].
func chunkName(code string) string {
	const prefix, suffix, dots = `[string "`, `"]`, "..."
	line := code
	truncated := false
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
		truncated = true
	}
	if limit := chunkIDSize - len(prefix) - len(suffix) - len(dots) - 1; len(line) > limit {
		line = line[:limit]
		truncated = true
	}
	if truncated {
		line += dots
	}
	return prefix + line + suffix
}

// Load compiles src and pins it as the entry point, releasing the previous
// one. On failure the previous entry point stays pinned.
func (s *Sandbox) Load(src Source) error {
	defer runtime.KeepAlive(s)
	st := s.st
	if err := st.acquire(); err != nil {
		return err
	}
	defer st.release()

	L := st.L
	L.SetTop(0)
	defer L.SetTop(0)

	fn, err := src.compile(L)
	if err != nil {
		e := engineError(nil, err)
		st.log.Debug("load failed", zap.String("chunk", src.Name()), zap.Stringer("status", e.Status))
		return e
	}

	st.anchors.unref(st.entry)
	st.entry = st.anchors.ref(fn)
	st.log.Debug("entry loaded", zap.String("chunk", src.Name()), zap.Int("anchor", st.entry))
	return nil
}

func (s *Sandbox) LoadString(code string) error {
	return s.Load(Text(code))
}

func (s *Sandbox) LoadFile(path string) error {
	return s.Load(File(path))
}

// Loaded reports whether an entry point is pinned.
func (s *Sandbox) Loaded() bool {
	defer runtime.KeepAlive(s)
	if s.st.acquire() != nil {
		return false
	}
	defer s.st.release()
	return s.st.entry != noAnchor
}
