package app

import (
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

// Conn is a live transport connection. Send must not block: implementations
// queue the event or drop the connection.
type Conn interface {
	ID() string
	Send(event domain.Event) error
}

// PayloadBuilder renders the payload of a broadcast for one role.
type PayloadBuilder func(role domain.Role) any

// Static returns a builder that gives every role the same payload.
func Static(payload any) PayloadBuilder {
	return func(domain.Role) any { return payload }
}

type recipient struct {
	name string
	role domain.Role
	conn Conn
}

// fanOut delivers typ to every recipient, building the payload once per distinct role.
// It returns the number of connections that accepted the event.
func fanOut(typ domain.EventType, recipients []recipient, build PayloadBuilder, log zerolog.Logger) int {
	views := make(map[domain.Role]any, 3)
	delivered := 0
	for _, rc := range recipients {
		if rc.conn == nil {
			continue
		}
		payload, ok := views[rc.role]
		if !ok {
			payload = build(rc.role)
			views[rc.role] = payload
		}
		if err := rc.conn.Send(domain.Event{Type: typ, Payload: payload}); err != nil {
			log.Debug().Err(err).Str("participant", rc.name).Str("event", string(typ)).Msg("send failed")
			continue
		}
		delivered++
	}
	return delivered
}
