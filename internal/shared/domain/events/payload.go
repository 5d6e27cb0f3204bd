package events

import "fmt"

// PayloadAs recupera el payload tipado de un evento. Acepta tanto el valor
// directo (evento recién creado) como el puntero que deja la decodificación
// del registro al cargar del store.
func PayloadAs[T any](evt DomainEvent) (T, error) {
	switch p := evt.Payload.(type) {
	case T:
		return p, nil
	case *T:
		return *p, nil
	default:
		var zero T
		return zero, fmt.Errorf("event %q: unexpected payload type %T", evt.EventName, evt.Payload)
	}
}
