package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedUtils "github.com/davicafu/eduflow/internal/shared/utils"
)

// StepResult es la disposición de un paso tras ejecutarse.
type StepResult int

const (
	// StepAdvance: pasar al siguiente paso.
	StepAdvance StepResult = iota
	// StepComplete: la saga termina con éxito.
	StepComplete
	// StepFail: terminal fallido (la compensación ya se ejecutó o requiere
	// operador). Queda como marca visible, nunca desaparece en silencio.
	StepFail
	// StepIgnore: el evento no era para esta instancia; la saga sigue
	// esperando en el mismo paso sin consumir reintentos.
	StepIgnore
)

// StepFunc ejecuta el comando de un paso. evt es el evento que disparó la
// ejecución, o nil cuando la dispara un temporizador (camino de timeout).
// Debe ser idempotente: ante una entrega duplicada o un timer re-disparado
// tras un crash, el efecto no puede aplicarse dos veces.
type StepFunc func(ctx context.Context, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) (StepResult, error)

// Step es un paso declarado de una saga.
//
//   - OnEvents vacío y After cero: se ejecuta inmediatamente al entrar.
//   - After > 0 sin OnEvents: se ejecuta cuando vence el retraso, medido
//     desde el occurredAt del evento disparador.
//   - OnEvents no vacío: espera a que llegue uno de esos eventos. Si además
//     After > 0, el temporizador actúa de timeout: si vence antes que el
//     evento, Run se invoca con evt nil.
//
// Un paso fallido se reintenta con backoff desde el temporizador, también
// con evt nil: un paso con OnEvents debe declarar After y resolver el caso
// evt nil consultando estado, o su fallo no tiene camino de recuperación.
type Step struct {
	Name     string
	After    time.Duration
	OnEvents []string
	Run      StepFunc
}

// Definition declara una saga: su evento disparador y la secuencia de pasos.
type Definition struct {
	Name    string
	Trigger string
	// Init extrae los datos locales de la saga del evento disparador.
	// Opcional.
	Init  func(evt sharedEvents.DomainEvent) (json.RawMessage, error)
	Steps []Step
}

func (d Definition) stepAwaiting(eventName string) int {
	for i, step := range d.Steps {
		for _, name := range step.OnEvents {
			if name == eventName {
				return i
			}
		}
	}
	return -1
}

// Coordinator escucha eventos publicados y hace avanzar instancias de saga.
// Todo el estado (paso actual, temporizadores, intentos) vive en el
// SagaStore: tras un reinicio, el bucle de temporizadores lo retoma.
type Coordinator struct {
	store       sharedDomain.SagaStore
	processed   sharedDomain.ProcessedStore
	registry    sharedEvents.Registry
	defs        []Definition
	interval    time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *zap.Logger
}

func NewCoordinator(
	store sharedDomain.SagaStore,
	processed sharedDomain.ProcessedStore,
	registry sharedEvents.Registry,
	interval time.Duration,
	maxAttempts int,
	log *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:       store,
		processed:   processed,
		registry:    registry,
		interval:    interval,
		maxAttempts: maxAttempts,
		backoffBase: time.Second,
		backoffMax:  5 * time.Minute,
		log:         log,
	}
}

// Register añade una definición de saga. Solo durante el arranque.
func (c *Coordinator) Register(def Definition) {
	c.defs = append(c.defs, def)
}

// ---------------- Entrada desde el bus ----------------

// HandleMessage decodifica un sobre del bus y lo despacha. Un detailType que
// el registro no conoce se descarta con aviso: a diferencia del replay, aquí
// el evento es de otro contexto y no afecta a la reconstrucción de estado.
func (c *Coordinator) HandleMessage(ctx context.Context, key string, payload []byte) {
	var env sharedEvents.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.log.Warn("Failed to unmarshal envelope", zap.String("key", key), zap.Error(err))
		return
	}

	evt, err := sharedEvents.FromEnvelope(env, c.registry)
	if err != nil {
		c.log.Warn("Evento de bus descartado", zap.String("detail_type", env.DetailType), zap.Error(err))
		return
	}

	c.HandleEvent(ctx, evt)
}

// HandleEvent despacha un evento a las sagas interesadas. También actúa de
// handler local para el Dispatcher en proceso.
func (c *Coordinator) HandleEvent(ctx context.Context, evt sharedEvents.DomainEvent) {
	for _, def := range c.defs {
		if def.Trigger == evt.EventName {
			c.handleTrigger(ctx, def, evt)
			continue
		}
		if idx := def.stepAwaiting(evt.EventName); idx >= 0 {
			c.handleStepEvent(ctx, def, idx, evt)
		}
	}
}

func (c *Coordinator) handleTrigger(ctx context.Context, def Definition, evt sharedEvents.DomainEvent) {
	fresh, err := c.processed.SetIfAbsent(ctx, "saga:"+def.Name, evt.EventID)
	if err != nil {
		c.log.Warn("⚠️ Error consultando deduplicación", zap.Error(err))
		return
	}
	if !fresh {
		c.log.Debug("Evento disparador duplicado ignorado", zap.String("event_id", evt.EventID.String()))
		return
	}

	st := &sharedDomain.SagaState{
		SagaID:        uuid.New(),
		SagaType:      def.Name,
		CorrelationID: evt.CorrelationID,
		Step:          0,
		Status:        sharedDomain.SagaActive,
		TriggerAt:     evt.OccurredAt,
		UpdatedAt:     time.Now().UTC(),
	}
	if def.Init != nil {
		st.Data, err = def.Init(evt)
		if err != nil {
			c.log.Error("No se pudieron extraer los datos de la saga", zap.String("saga", def.Name), zap.Error(err))
			return
		}
	}

	if err := c.store.Insert(ctx, st); err != nil {
		if errors.Is(err, sharedDomain.ErrSagaAlreadyExists) {
			// El disparador llegó dos veces con eventIds distintos (reemisión
			// del productor): la correlación ya tiene saga, no-op.
			return
		}
		// Fallo transitorio sin saga creada: liberar la marca de procesado o
		// la reentrega del disparador se descartaría y la saga no nacería nunca.
		if rerr := c.processed.Release(ctx, "saga:"+def.Name, evt.EventID); rerr != nil {
			c.log.Warn("⚠️ No se pudo liberar la marca de deduplicación", zap.Error(rerr))
		}
		c.log.Error("No se pudo crear la saga", zap.String("saga", def.Name), zap.Error(err))
		return
	}

	c.log.Info("🧭 Saga creada",
		zap.String("saga", def.Name),
		zap.String("correlation_id", st.CorrelationID.String()),
	)
	c.advance(ctx, def, st, &evt)
}

func (c *Coordinator) handleStepEvent(ctx context.Context, def Definition, idx int, evt sharedEvents.DomainEvent) {
	st, err := c.store.FindByCorrelation(ctx, def.Name, evt.CorrelationID)
	if err != nil {
		if errors.Is(err, sharedDomain.ErrSagaNotFound) {
			// Evento de paso sin saga: o llegó antes que el disparador o la
			// correlación no es de esta saga.
			c.log.Debug("Evento de paso sin saga asociada", zap.String("event", evt.EventName))
			return
		}
		c.log.Warn("⚠️ Error buscando saga", zap.Error(err))
		return
	}

	// Idempotencia del paso: si la saga ya avanzó más allá (o terminó), el
	// duplicado no produce un segundo efecto. Se comprueba ANTES de consumir
	// la deduplicación: un evento que llega mientras la saga aún no está en
	// su paso (entrega local síncrona adelantada al avance) debe poder
	// reintentarse cuando el bus lo reentregue.
	if st.Status != sharedDomain.SagaActive || st.Step != idx {
		c.log.Debug("Evento para un paso distinto del actual, no-op",
			zap.String("saga", def.Name),
			zap.Int("step", idx),
			zap.Int("current", st.Step),
		)
		return
	}

	fresh, err := c.processed.SetIfAbsent(ctx, "saga:"+def.Name, evt.EventID)
	if err != nil {
		c.log.Warn("⚠️ Error consultando deduplicación", zap.Error(err))
		return
	}
	if !fresh {
		return
	}

	if c.runStep(ctx, def, st, &evt) {
		st.Step++
		st.Attempts = 0
		st.NextWakeAt = nil
		st.UpdatedAt = time.Now().UTC()
		if err := c.store.Update(ctx, st); err != nil {
			c.log.Warn("⚠️ No se pudo avanzar la saga", zap.Error(err))
			return
		}
		c.advance(ctx, def, st, &evt)
	}
}

// ---------------- Avance de pasos ----------------

// advance ejecuta pasos encadenados hasta toparse con una espera (evento o
// temporizador) o un estado terminal.
func (c *Coordinator) advance(ctx context.Context, def Definition, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) {
	for st.Status == sharedDomain.SagaActive {
		if st.Step >= len(def.Steps) {
			st.Status = sharedDomain.SagaCompleted
			st.NextWakeAt = nil
			st.UpdatedAt = time.Now().UTC()
			if err := c.store.Update(ctx, st); err != nil {
				c.log.Warn("⚠️ No se pudo completar la saga", zap.Error(err))
			}
			return
		}

		step := def.Steps[st.Step]

		// Paso de espera: armar el timeout si lo declara y aparcar.
		if len(step.OnEvents) > 0 {
			if step.After > 0 {
				wake := st.TriggerAt.Add(step.After)
				st.NextWakeAt = &wake
			} else {
				st.NextWakeAt = nil
			}
			st.UpdatedAt = time.Now().UTC()
			if err := c.store.Update(ctx, st); err != nil {
				c.log.Warn("⚠️ No se pudo aparcar la saga", zap.Error(err))
			}
			return
		}

		// Paso retrasado puro: aparcar hasta que venza.
		if step.After > 0 {
			wake := st.TriggerAt.Add(step.After)
			if time.Now().UTC().Before(wake) {
				st.NextWakeAt = &wake
				st.UpdatedAt = time.Now().UTC()
				if err := c.store.Update(ctx, st); err != nil {
					c.log.Warn("⚠️ No se pudo programar el paso retrasado", zap.Error(err))
				}
				return
			}
		}

		if !c.runStep(ctx, def, st, evt) {
			return
		}
		st.Step++
		st.Attempts = 0
		st.NextWakeAt = nil
		st.UpdatedAt = time.Now().UTC()
		if err := c.store.Update(ctx, st); err != nil {
			c.log.Warn("⚠️ No se pudo avanzar la saga", zap.Error(err))
			return
		}
	}
}

// runStep ejecuta el comando del paso actual y resuelve su disposición.
// Devuelve true si la saga debe avanzar al siguiente paso.
func (c *Coordinator) runStep(ctx context.Context, def Definition, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) bool {
	step := def.Steps[st.Step]

	res, err := step.Run(ctx, st, evt)
	if err != nil {
		st.Attempts++
		st.UpdatedAt = time.Now().UTC()
		if st.Attempts >= c.maxAttempts {
			st.Status = sharedDomain.SagaFailed
			st.NextWakeAt = nil
			c.log.Error("💀 Saga agotó los reintentos del paso",
				zap.String("saga", def.Name),
				zap.String("step", step.Name),
				zap.String("correlation_id", st.CorrelationID.String()),
				zap.Error(err),
			)
		} else {
			wake := time.Now().UTC().Add(sharedUtils.Backoff(c.backoffBase, c.backoffMax, st.Attempts))
			st.NextWakeAt = &wake
			c.log.Warn("⚠️ Paso de saga fallido, reintento programado",
				zap.String("saga", def.Name),
				zap.String("step", step.Name),
				zap.Int("attempts", st.Attempts),
				zap.Error(err),
			)
		}
		if uerr := c.store.Update(ctx, st); uerr != nil {
			c.log.Warn("⚠️ No se pudo persistir el fallo del paso", zap.Error(uerr))
		}
		return false
	}

	switch res {
	case StepComplete:
		st.Status = sharedDomain.SagaCompleted
		st.NextWakeAt = nil
		st.UpdatedAt = time.Now().UTC()
		if err := c.store.Update(ctx, st); err != nil {
			c.log.Warn("⚠️ No se pudo completar la saga", zap.Error(err))
		}
		c.log.Info("🏁 Saga completada",
			zap.String("saga", def.Name),
			zap.String("correlation_id", st.CorrelationID.String()),
		)
		return false
	case StepFail:
		st.Status = sharedDomain.SagaFailed
		st.NextWakeAt = nil
		st.UpdatedAt = time.Now().UTC()
		if err := c.store.Update(ctx, st); err != nil {
			c.log.Warn("⚠️ No se pudo marcar la saga como fallida", zap.Error(err))
		}
		c.log.Warn("🛑 Saga terminada en fallo",
			zap.String("saga", def.Name),
			zap.String("step", step.Name),
			zap.String("correlation_id", st.CorrelationID.String()),
		)
		return false
	case StepIgnore:
		return false
	default:
		return true
	}
}

// ---------------- Temporizadores ----------------

// Start arranca el bucle que re-dispara pasos con temporizador vencido,
// incluido el arranque tras un reinicio del proceso.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.log.Info("⏰ Bucle de temporizadores de saga iniciado", zap.Duration("interval", c.interval))

		for {
			select {
			case <-ctx.Done():
				c.log.Info("🛑 Bucle de temporizadores de saga detenido.")
				return
			case <-ticker.C:
				c.WakeDue(ctx)
			}
		}
	}()
}

// WakeDue ejecuta un barrido de sagas con temporizador vencido.
func (c *Coordinator) WakeDue(ctx context.Context) {
	due, err := c.store.Due(ctx, time.Now().UTC(), 50)
	if err != nil {
		c.log.Warn("⚠️ Error buscando sagas vencidas", zap.Error(err))
		return
	}

	for _, st := range due {
		def, ok := c.findDef(st.SagaType)
		if !ok {
			c.log.Error("Saga persistida sin definición registrada", zap.String("saga", st.SagaType))
			continue
		}
		// Un re-disparo tras crash puede llegar con la saga ya avanzada: el
		// chequeo de paso dentro de advance/runStep lo convierte en no-op.
		if st.Step >= len(def.Steps) || st.Status != sharedDomain.SagaActive {
			continue
		}
		if c.runStep(ctx, def, st, nil) {
			st.Step++
			st.Attempts = 0
			st.NextWakeAt = nil
			st.UpdatedAt = time.Now().UTC()
			if err := c.store.Update(ctx, st); err != nil {
				c.log.Warn("⚠️ No se pudo avanzar la saga", zap.Error(err))
				continue
			}
			c.advance(ctx, def, st, nil)
		}
	}
}

func (c *Coordinator) findDef(name string) (Definition, bool) {
	for _, def := range c.defs {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}
