// script.go - Lua scene scripting

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

// Package script drives a scene.World from a Lua script. The script runs on
// the control loop: a global function frame(n), if defined, is called once
// per control frame before the bridge runs.
//
// Lua API (table "scene"):
//
//	scene.spawn(amplitude, frequency) -> id
//	scene.set(id, amplitude, frequency) -> ok
//	scene.amplitude(id, v) -> ok
//	scene.frequency(id, v) -> ok
//	scene.despawn(id) -> ok
//	scene.count() -> n
//	scene.entities() -> {id, ...}
//	log(msg)
package script

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/intuitionamiga/audiobridge/bridge"
	"github.com/intuitionamiga/audiobridge/scene"
)

// Engine is a Lua state bound to a world. Not safe for concurrent use.
type Engine struct {
	L     *lua.LState
	world *scene.World
	log   zerolog.Logger
}

// New creates a sandboxed Lua state with the base, table, string and math
// libraries and the scene API.
func New(w *scene.World, log zerolog.Logger) *Engine {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Base library leftovers that reach the file system.
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}

	e := &Engine{L: L, world: w, log: log}
	e.register()
	return e
}

func (e *Engine) Close() { e.L.Close() }

func (e *Engine) register() {
	L := e.L
	api := L.NewTable()
	L.SetFuncs(api, map[string]lua.LGFunction{
		"spawn":     e.spawn,
		"set":       e.set,
		"amplitude": e.amplitude,
		"frequency": e.frequency,
		"despawn":   e.despawn,
		"count":     e.count,
		"entities":  e.entities,
	})
	L.SetGlobal("scene", api)
	L.SetGlobal("log", L.NewFunction(e.logFn))
}

// DoString runs a chunk, typically the script body defining frame().
func (e *Engine) DoString(src string) error {
	if err := e.L.DoString(src); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

func (e *Engine) DoFile(path string) error {
	if err := e.L.DoFile(path); err != nil {
		return fmt.Errorf("lua %s: %w", path, err)
	}
	return nil
}

// Frame calls frame(n) if the script defined it. ctx bounds the call; a
// script that runs past the deadline is aborted with an error.
func (e *Engine) Frame(ctx context.Context, n uint64) error {
	fn, ok := e.L.GetGlobal("frame").(*lua.LFunction)
	if !ok {
		return nil
	}
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(n)); err != nil {
		return fmt.Errorf("lua frame %d: %w", n, err)
	}
	return nil
}

func checkEntity(L *lua.LState, n int) bridge.Entity {
	v := L.CheckInt64(n)
	if v <= 0 {
		L.ArgError(n, "entity id must be positive")
	}
	return bridge.Entity(v)
}

func checkAmplitude(L *lua.LState, n int) float32 {
	v := float32(L.CheckNumber(n))
	if v < 0 || v > 1 {
		L.ArgError(n, "amplitude must be in 0..1")
	}
	return v
}

func checkFrequency(L *lua.LState, n int) float32 {
	v := float32(L.CheckNumber(n))
	if v < 0 || v > 20000 {
		L.ArgError(n, "frequency must be in 0..20000")
	}
	return v
}

func (e *Engine) spawn(L *lua.LState) int {
	b := scene.Beep{Amplitude: checkAmplitude(L, 1), Frequency: checkFrequency(L, 2)}
	L.Push(lua.LNumber(e.world.Spawn(b)))
	return 1
}

func (e *Engine) set(L *lua.LState) int {
	id := checkEntity(L, 1)
	amp, freq := checkAmplitude(L, 2), checkFrequency(L, 3)
	ok := e.world.Update(id, func(b *scene.Beep) {
		b.Amplitude = amp
		b.Frequency = freq
	})
	L.Push(lua.LBool(ok))
	return 1
}

func (e *Engine) amplitude(L *lua.LState) int {
	L.Push(lua.LBool(e.world.SetAmplitude(checkEntity(L, 1), checkAmplitude(L, 2))))
	return 1
}

func (e *Engine) frequency(L *lua.LState) int {
	L.Push(lua.LBool(e.world.SetFrequency(checkEntity(L, 1), checkFrequency(L, 2))))
	return 1
}

func (e *Engine) despawn(L *lua.LState) int {
	L.Push(lua.LBool(e.world.Despawn(checkEntity(L, 1))))
	return 1
}

func (e *Engine) count(L *lua.LState) int {
	L.Push(lua.LNumber(e.world.Len()))
	return 1
}

func (e *Engine) entities(L *lua.LState) int {
	t := L.NewTable()
	for _, id := range e.world.Entities() {
		t.Append(lua.LNumber(id))
	}
	L.Push(t)
	return 1
}

func (e *Engine) logFn(L *lua.LState) int {
	e.log.Info().Str("source", "lua").Msg(L.CheckString(1))
	return 0
}
