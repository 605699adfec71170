package harness

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/session"
)

// executeStep runs one step and describes its outcome. The returned error is
// reserved for steps that cannot run at all.
func (h *Harness) executeStep(st *Step) (TraceEvent, error) {
	ctxName := st.Context
	if ctxName == "" {
		ctxName = DefaultContext
	}
	ev := TraceEvent{Action: st.Action, Context: ctxName}
	ctx := h.ctx(ctxName)

	switch st.Action {
	case ActionBegin, ActionBeginReadOnly:
		begin := h.manager.Begin
		if st.Action == ActionBeginReadOnly {
			begin = h.manager.BeginReadOnly
		}
		next, s, err := begin(ctx)
		ev.Target = st.Session
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.setCtx(ctxName, next)
			h.sessions[st.Session] = s
			ev.Value = s.ID()
			ev.State = s.State().String()
		}

	case ActionSuspend:
		next, s, err := h.manager.Suspend(ctx)
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.setCtx(ctxName, next)
		}
		if s != nil {
			ev.Target = h.sessionName(s)
			ev.State = s.State().String()
		}

	case ActionResume:
		s, err := h.session(st.Session)
		if err != nil {
			return ev, err
		}
		next, err := h.manager.Resume(ctx, s)
		ev.Target = st.Session
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.setCtx(ctxName, next)
		}
		ev.State = s.State().String()

	case ActionFlush, ActionCommit, ActionAbort:
		s, err := h.session(st.Session)
		if err != nil {
			return ev, err
		}
		switch st.Action {
		case ActionFlush:
			err = s.Flush(ctx)
		case ActionCommit:
			err = s.Commit(ctx)
		default:
			err = s.Abort(ctx)
		}
		ev.Target = st.Session
		ev.Outcome = ErrorCode(err)
		ev.State = s.State().String()

	case ActionNew:
		s, err := h.session(st.Session)
		if err != nil {
			return ev, err
		}
		e, err := s.New(ctx, st.Type)
		ev.Target = st.Entity
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.entities[st.Entity] = e
			ev.State = e.State().String()
		}

	case ActionLoad:
		s, err := h.session(st.Session)
		if err != nil {
			return ev, err
		}
		id, err := h.record(st.Record)
		if err != nil {
			return ev, err
		}
		e, err := s.Load(ctx, id)
		ev.Target = st.Entity
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.entities[st.Entity] = e
			ev.State = e.State().String()
		}

	case ActionSetProperty, ActionAddLink, ActionDelete:
		s, err := h.session(st.Session)
		if err != nil {
			return ev, err
		}
		e, err := h.entity(st.Entity)
		if err != nil {
			return ev, err
		}
		switch st.Action {
		case ActionSetProperty:
			err = s.SetProperty(ctx, e, st.Name, st.Value)
		case ActionAddLink:
			var other *entity.Entity
			if other, err = h.entity(st.Other); err != nil {
				return ev, err
			}
			err = s.AddLink(ctx, e, st.Name, other)
		default:
			err = s.Delete(ctx, e)
		}
		ev.Target = st.Entity
		ev.Outcome = ErrorCode(err)
		ev.State = e.State().String()

	case ActionSeed:
		id, err := h.seed(ctx, st)
		ev.Target = st.Record
		ev.Outcome = ErrorCode(err)
		if err == nil {
			h.records[st.Record] = id
			ev.Value = id.String()
		}

	case ActionExternalSet:
		version, target, err := h.externalSet(ctx, st)
		if target == "" {
			return ev, err
		}
		ev.Target = target
		ev.Outcome = ErrorCode(err)
		if err == nil {
			ev.Value = strconv.Itoa(version)
		}

	case ActionCall:
		e, err := h.entity(st.Entity)
		if err != nil {
			return ev, err
		}
		var other *entity.Entity
		if st.Other != "" {
			if other, err = h.entity(st.Other); err != nil {
				return ev, err
			}
		}
		value, err := callOps[st.Op](ctx, e, other, st)
		ev.Action = st.Action + " " + st.Op
		ev.Target = st.Entity
		ev.Outcome = ErrorCode(err)
		if err == nil {
			ev.Value = value
		}
		ev.State = e.State().String()

	default:
		return ev, fmt.Errorf("unknown action %q", st.Action)
	}

	return ev, nil
}

// seed writes a record straight to the backend, outside any session.
func (h *Harness) seed(ctx context.Context, st *Step) (entity.ID, error) {
	tx, err := h.backend.Begin(ctx)
	if err != nil {
		return entity.ID{}, err
	}
	defer tx.Rollback()

	rec, err := tx.Create(ctx, st.Type)
	if err != nil {
		return entity.ID{}, err
	}

	names := make([]string, 0, len(st.Values))
	for name := range st.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := tx.SetProperty(ctx, rec, name, st.Values[name]); err != nil {
			return entity.ID{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return entity.ID{}, err
	}
	return rec.ID(), nil
}

// externalSet sets a property of a stored record outside any session and
// returns the record's new version. An empty target means the step names
// nothing the harness knows.
func (h *Harness) externalSet(ctx context.Context, st *Step) (int, string, error) {
	var id entity.ID
	target := st.Record
	if st.Record != "" {
		var err error
		if id, err = h.record(st.Record); err != nil {
			return 0, "", err
		}
	} else {
		e, err := h.entity(st.Entity)
		if err != nil {
			return 0, "", err
		}
		target = st.Entity
		if id, err = e.ID(ctx); err != nil {
			return 0, target, err
		}
	}

	rec, err := h.backend.Load(ctx, id)
	if err != nil {
		return 0, target, err
	}

	tx, err := h.backend.Begin(ctx)
	if err != nil {
		return 0, target, err
	}
	if err := tx.SetProperty(ctx, rec, st.Name, st.Value); err != nil {
		tx.Rollback()
		return 0, target, err
	}
	if err := tx.Commit(); err != nil {
		return 0, target, err
	}

	version, err := rec.Version(ctx)
	return version, target, err
}

type callFunc func(ctx context.Context, e, other *entity.Entity, st *Step) (string, error)

// callOps maps op names of call steps to wrapper operations. Results are
// rendered as text so they can be matched and stored in golden traces.
var callOps = map[string]callFunc{
	"record": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		rec, err := e.Record(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(rec), nil
	},
	"id": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		id, err := e.ID(ctx)
		return id.String(), err
	},
	"id-string": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		return e.IDString(ctx)
	},
	"version": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		v, err := e.Version(ctx)
		return strconv.Itoa(v), err
	},
	"refresh-version": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		return "", e.RefreshVersion(ctx)
	},
	"property-names": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		names, err := e.PropertyNames(ctx)
		return renderNames(names), err
	},
	"blob-names": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		names, err := e.BlobNames(ctx)
		return renderNames(names), err
	},
	"link-names": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		names, err := e.LinkNames(ctx)
		return renderNames(names), err
	},
	"up-to-date-version": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		w, err := e.UpToDateVersion(ctx)
		return renderEntity(w), err
	},
	"next-version": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		w, err := e.NextVersion(ctx)
		return renderEntity(w), err
	},
	"previous-version": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		w, err := e.PreviousVersion(ctx)
		return renderEntity(w), err
	},
	"history": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		ws, err := e.History(ctx)
		return renderEntities(ws), err
	},
	"is-up-to-date": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		ok, err := e.IsUpToDate(ctx)
		return strconv.FormatBool(ok), err
	},
	"was-created": func(_ context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		ok, err := e.WasCreated()
		return strconv.FormatBool(ok), err
	},
	"equal": func(ctx context.Context, e, other *entity.Entity, _ *Step) (string, error) {
		ok, err := e.Equal(ctx, other)
		return strconv.FormatBool(ok), err
	},
	"compare": func(ctx context.Context, e, other *entity.Entity, _ *Step) (string, error) {
		n, err := e.Compare(ctx, other)
		switch {
		case n < 0:
			n = -1
		case n > 0:
			n = 1
		}
		return strconv.Itoa(n), err
	},
	"hash": func(ctx context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		sum, err := e.Hash(ctx)
		return fmt.Sprintf("%016x", sum), err
	},
	"state": func(_ context.Context, e, _ *entity.Entity, _ *Step) (string, error) {
		return e.State().String(), nil
	},
	"property": func(ctx context.Context, e, _ *entity.Entity, st *Step) (string, error) {
		s, err := owner(e)
		if err != nil {
			return "", err
		}
		value, ok, err := s.Property(ctx, e, st.Name)
		if err != nil || !ok {
			return "", err
		}
		return value, nil
	},
	"links": func(ctx context.Context, e, _ *entity.Entity, st *Step) (string, error) {
		s, err := owner(e)
		if err != nil {
			return "", err
		}
		ws, err := s.Links(ctx, e, st.Name)
		return renderEntities(ws), err
	},
}

// CallOps returns the op names accepted by call steps, sorted.
func CallOps() []string {
	ops := make([]string, 0, len(callOps))
	for op := range callOps {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func owner(e *entity.Entity) (*session.Session, error) {
	s, ok := e.Session().(*session.Session)
	if !ok || s == nil {
		return nil, fmt.Errorf("entity %s has no session: %w", e, session.ErrNotOpen)
	}
	return s, nil
}

func renderNames(names []string) string {
	return "[" + strings.Join(names, " ") + "]"
}

func renderEntity(e *entity.Entity) string {
	if e == nil {
		return "<nil>"
	}
	return e.String()
}

func renderEntities(es []*entity.Entity) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = renderEntity(e)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
