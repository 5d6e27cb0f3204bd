package events

import "errors"

// ErrUnknownEventType indica un event_name sin entrada en el registro.
// Durante el replay de un agregado es un fallo duro (política fail-fast):
// saltarse el evento reconstruiría un estado distinto en silencio.
var ErrUnknownEventType = errors.New("unknown event type")
