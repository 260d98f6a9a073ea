package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Telmate/kms-pointerdetectix/snapshot"
)

// Parameter names accepted by SetParam and GetParam
const (
	ParamWait   = "wait"   // Milliseconds after arming before the first snap
	ParamSnap   = "snap"   // interval,maxSnaps,maxFails
	ParamPath   = "path"   // Snapshot folder, "auto" for the temporary folder
	ParamNote   = "note"   // Most recent runtime error, read resets it
	ParamSilent = "silent" // Suppresses informational logs
)

const noteNone = "none"

var paramNames = []string{ParamWait, ParamSnap, ParamPath, ParamNote, ParamSilent}

var (
	ErrUnknownParam  = errors.New("unknown parameter")
	ErrReadOnlyParam = errors.New("parameter is read only")
	ErrInvalidParam  = errors.New("invalid parameter value")
)

type params struct {
	wait   time.Duration
	snap   snapshot.Policy
	path   string
	note   string
	silent bool
}

func defaultParams() params {
	return params{
		wait:   2000 * time.Millisecond,
		path:   snapshot.AutoDir,
		note:   noteNone,
		silent: true,
	}
}

func (p params) policy() snapshot.Policy {
	pol := p.snap
	pol.Wait = p.wait
	return pol
}

// SetParam changes one named parameter. Snapshot parameters re-arm the saver.
func (f *Filter) SetParam(name, value string) error {
	value = strings.TrimSpace(value)

	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.params
	switch name {
	case ParamWait:
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 0 {
			return f.fail(errors.Wrapf(ErrInvalidParam, "wait=%q", value))
		}
		next.wait = time.Duration(ms) * time.Millisecond
	case ParamSnap:
		pol, err := snapshot.ParseSnap(value)
		if err != nil {
			return f.fail(errors.Wrap(ErrInvalidParam, err.Error()))
		}
		next.snap = pol
	case ParamPath:
		if value == "" {
			return f.fail(errors.Wrap(ErrInvalidParam, "path is empty"))
		}
		next.path = value
	case ParamSilent:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return f.fail(errors.Wrapf(ErrInvalidParam, "silent=%q", value))
		}
		next.silent = b
	case ParamNote:
		return f.fail(errors.Wrap(ErrReadOnlyParam, name))
	default:
		return f.fail(errors.Wrap(ErrUnknownParam, name))
	}
	f.params = next

	switch name {
	case ParamPath:
		f.saver.SetDir(next.path)
	case ParamWait, ParamSnap:
		f.saver.Arm(next.policy(), time.Now())
	}
	f.info("PARAMS", fmt.Sprintf("%s=%s", name, value))
	return nil
}

// GetParam returns the current value of a named parameter.
// Reading note resets it to "none".
func (f *Filter) GetParam(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getParamLocked(name)
}

func (f *Filter) getParamLocked(name string) (string, error) {
	switch name {
	case ParamWait:
		return strconv.FormatInt(f.params.wait.Milliseconds(), 10), nil
	case ParamSnap:
		return snapshot.FormatSnap(f.params.snap), nil
	case ParamPath:
		return f.params.path, nil
	case ParamNote:
		note := f.params.note
		f.params.note = noteNone
		return note, nil
	case ParamSilent:
		return strconv.FormatBool(f.params.silent), nil
	}
	return "", f.fail(errors.Wrap(ErrUnknownParam, name))
}

// ParamsList returns every parameter as tab separated name=value pairs
func (f *Filter) ParamsList() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sb strings.Builder
	for _, name := range paramNames {
		v, _ := f.getParamLocked(name)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('\t')
	}
	return sb.String()
}

// LastError returns the last failed operation and clears it
func (f *Filter) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.lastErr
	f.lastErr = ""
	return e
}

// fail records err as the last error and returns it. Callers hold f.mu.
func (f *Filter) fail(err error) error {
	f.lastErr = err.Error()
	debugMsg("FILTER", err.Error())
	return err
}

// noteLocked records a runtime condition for the note parameter. Callers hold f.mu.
func (f *Filter) noteLocked(condition string) {
	f.params.note = condition
	debugMsg("FILTER", condition)
}

// info logs unless the silent parameter is set. Callers hold f.mu.
func (f *Filter) info(component, message string, zoneID ...string) {
	if !f.params.silent {
		debugMsg(component, message, zoneID...)
	}
}
