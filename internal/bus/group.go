package bus

import (
	"context"
	"fmt"
	"time"
)

// SendGroup sends env to every member of group.
//
// Members are resolved from a snapshot taken at call time and processed one
// after another. A failure on one member never stops the rest. In ModeSync fn
// receives every member's result; in ModeAsync it receives failures only.
// An empty group succeeds without calling fn.
//
// In ModeAsync a configured Transport is tried first. If it accepts the
// message, fn is called once for MulticastTarget and no local fan-out
// happens; otherwise the engine falls back to per-member delivery.
//
// Returns:
//   - error: device.ErrGroupNotFound, or the first member failure wrapped with
//     the member name
func (e *Engine) SendGroup(ctx context.Context, group string, env Envelope, fn MemberFunc) error {
	if e.closed.Load() {
		return ErrClosed
	}
	members, err := e.groups.Members(group)
	if err != nil {
		return err
	}

	start := time.Now()
	report := func(r MemberResult) {
		if fn != nil {
			fn(r)
		}
	}

	if env.Mode == ModeAsync {
		if t := e.currentTransport(); t != nil {
			terr := t.Broadcast(ctx, group, env)
			if terr == nil {
				report(MemberResult{
					Device: MulticastTarget,
					Reply:  Reply{Device: MulticastTarget, Kind: env.Kind, Status: StatusOK},
					Status: StatusOK,
				})
				e.emitGroup(group, env, 0, nil, start)
				return nil
			}
			e.logger.Debug("transport broadcast failed, delivering directly",
				"group", group,
				"error", terr,
			)
		}
	}

	var first error
	for _, name := range members {
		memberEnv := env
		memberEnv.Target = name

		reply, err := e.Send(ctx, memberEnv)
		if err != nil && first == nil {
			first = fmt.Errorf("member %s: %w", name, err)
		}
		if env.Mode == ModeSync || err != nil {
			report(MemberResult{
				Device: name,
				Reply:  reply,
				Status: StatusOf(err),
				Err:    err,
			})
		}
	}

	e.emitGroup(group, env, len(members), first, start)
	return first
}

func (e *Engine) emitGroup(group string, env Envelope, members int, err error, start time.Time) {
	e.emit(Event{
		Stage:    StageGroup,
		Group:    group,
		Kind:     env.Kind,
		Priority: env.Priority,
		Mode:     env.Mode,
		Status:   StatusOf(err),
		Error:    errString(err),
		Content:  env.Content,
		Members:  members,
		Duration: time.Since(start),
	})
}

// Inject re-enters transport traffic as an asynchronous send to
// MulticastTarget. Transports call it for every inbound message.
func (e *Engine) Inject(ctx context.Context, in Inbound) error {
	_, err := e.Send(ctx, Envelope{
		Target:   MulticastTarget,
		Kind:     in.Kind,
		Priority: in.Priority,
		Content:  in.Content,
		Mode:     ModeAsync,
	})
	if err != nil {
		e.logger.Debug("inbound message dropped",
			"source", in.Source,
			"group", in.Group,
			"error", err,
		)
		return fmt.Errorf("injecting from %s: %w", in.Source, err)
	}
	return nil
}
