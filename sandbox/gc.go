package sandbox

import (
	"fmt"
	"runtime"

	lua "github.com/yuin/gopher-lua"
)

// GCOption selects a collector control. The codes follow the Lua 5.4
// numbering and are passed through opaquely by bindings.
type GCOption int

const (
	GCStop       GCOption = 0
	GCRestart    GCOption = 1
	GCCollect    GCOption = 2
	GCCount      GCOption = 3
	GCCountB     GCOption = 4
	GCStep       GCOption = 5
	GCSetPause   GCOption = 6
	GCSetStepMul GCOption = 7
	GCIsRunning  GCOption = 9
	GCGen        GCOption = 10
	GCInc        GCOption = 11
)

var gcOptionNames = map[GCOption]string{
	GCStop:       "stop",
	GCRestart:    "restart",
	GCCollect:    "collect",
	GCCount:      "count",
	GCCountB:     "countb",
	GCStep:       "step",
	GCSetPause:   "setpause",
	GCSetStepMul: "setstepmul",
	GCIsRunning:  "isrunning",
	GCGen:        "generational",
	GCInc:        "incremental",
}

func (o GCOption) String() string {
	if name, ok := gcOptionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("gcoption(%d)", int(o))
}

// GCOptions returns every option keyed by its upper-case name, as
// exported to Lua.
func GCOptions() map[string]GCOption {
	return map[string]GCOption{
		"STOP":       GCStop,
		"RESTART":    GCRestart,
		"COLLECT":    GCCollect,
		"COUNT":      GCCount,
		"COUNTB":     GCCountB,
		"STEP":       GCStep,
		"SETPAUSE":   GCSetPause,
		"SETSTEPMUL": GCSetStepMul,
		"ISRUNNING":  GCIsRunning,
		"GEN":        GCGen,
		"INC":        GCInc,
	}
}

// ParseGCOption accepts the collectgarbage option names.
func ParseGCOption(name string) (GCOption, bool) {
	for o, n := range gcOptionNames {
		if n == name {
			return o, true
		}
	}
	return 0, false
}

// gcPolicy is the collector state of one sandbox. The engine's objects
// live on the Go heap, so collection work is done by the Go runtime; the
// policy decides whether a sandbox asks for it.
type gcPolicy struct {
	stopped  bool
	mode     GCOption
	pause    int
	stepMul  int
	stepSize int
	minorMul int
	majorMul int
}

func defaultGCPolicy() gcPolicy {
	return gcPolicy{
		mode:     GCInc,
		pause:    200,
		stepMul:  100,
		stepSize: 13,
		minorMul: 20,
		majorMul: 100,
	}
}

func (p *gcPolicy) control(what GCOption, args []int) (int, error) {
	arg := func(i int) int {
		if i < len(args) {
			return args[i]
		}
		return 0
	}

	switch what {
	case GCStop:
		p.stopped = true
		return 0, nil
	case GCRestart:
		p.stopped = false
		return 0, nil
	case GCCollect:
		if !p.stopped {
			runtime.GC()
		}
		return 0, nil
	case GCCount:
		return int(heapBytes() >> 10), nil
	case GCCountB:
		return int(heapBytes() & 0x3ff), nil
	case GCStep:
		if p.stopped {
			return 0, nil
		}
		runtime.GC()
		return 1, nil
	case GCSetPause:
		prev := p.pause
		p.pause = arg(0)
		return prev, nil
	case GCSetStepMul:
		prev := p.stepMul
		p.stepMul = arg(0)
		return prev, nil
	case GCIsRunning:
		if p.stopped {
			return 0, nil
		}
		return 1, nil
	case GCGen:
		prev := p.mode
		p.mode = GCGen
		setIf(&p.minorMul, arg(0))
		setIf(&p.majorMul, arg(1))
		return int(prev), nil
	case GCInc:
		prev := p.mode
		p.mode = GCInc
		setIf(&p.pause, arg(0))
		setIf(&p.stepMul, arg(1))
		setIf(&p.stepSize, arg(2))
		return int(prev), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownGCOption, int(what))
}

// setIf stores v when it is non-zero; zero keeps the current value.
func setIf(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func heapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Collect controls the sandbox's collector. Tuning options return the
// previous value; GCGen and GCInc return the previous mode; GCIsRunning
// returns 1 or 0.
func (s *Sandbox) Collect(what GCOption, args ...int) (int, error) {
	defer runtime.KeepAlive(s)
	st := s.st
	if err := st.acquire(); err != nil {
		return 0, err
	}
	defer st.release()

	n, err := st.gc.control(what, args)
	if err != nil {
		return 0, &Error{Status: StatusErrArg, Message: err.Error(), Err: ErrUnknownGCOption}
	}
	return n, nil
}

// installCollectGarbage replaces the collectgarbage global with one that
// follows the sandbox's policy.
func (st *state) installCollectGarbage() {
	st.L.SetGlobal("collectgarbage", st.L.NewFunction(st.collectGarbage))
}

func (st *state) collectGarbage(L *lua.LState) int {
	name := L.OptString(1, "collect")
	what, ok := ParseGCOption(name)
	if !ok || what == GCCountB {
		L.ArgError(1, "invalid option '"+name+"'")
		return 0
	}

	args := make([]int, 0, 3)
	for i := 2; i <= L.GetTop() && i <= 4; i++ {
		args = append(args, L.OptInt(i, 0))
	}
	n, err := st.gc.control(what, args)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	switch what {
	case GCCount:
		kb := float64(heapBytes()) / 1024
		L.Push(lua.LNumber(kb))
	case GCStep, GCIsRunning:
		L.Push(lua.LBool(n != 0))
	case GCGen, GCInc:
		L.Push(lua.LString(GCOption(n).String()))
	default:
		L.Push(lua.LNumber(n))
	}
	return 1
}
