package relayer

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/eduflow/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/eduflow/internal/shared/utils"
	"go.uber.org/zap"
)

// Worker drena el outbox hacia el bus externo. La entrega es at-least-once:
// un crash entre el ack del bus y MarkDelivered provoca un reenvío en el
// siguiente ciclo, y los consumidores deduplican por eventId.
type Worker struct {
	repo        sharedDomain.OutboxRepository
	publisher   sharedBus.EventBus
	source      string // nombre del servicio productor, campo "source" del sobre
	interval    time.Duration
	batchSize   int
	maxAttempts int
	lease       time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *zap.Logger
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	source string,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	lease time.Duration,
	log *zap.Logger,
) *Worker {
	return &Worker{
		repo:        repo,
		publisher:   publisher,
		source:      source,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		lease:       lease,
		backoffBase: 500 * time.Millisecond,
		backoffMax:  2 * time.Minute,
		log:         log,
	}
}

// Start inicia el bucle de polling del worker en segundo plano.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.interval))

		for {
			select {
			case <-ctx.Done():
				w.log.Info("🛑 Outbox worker detenido.")
				return
			case <-ticker.C:
				w.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch reclama un lote y confirma entrada a entrada: un fallo
// parcial del lote solo reprograma las entradas que fallaron.
func (w *Worker) ProcessBatch(ctx context.Context) {
	entries, err := w.repo.ClaimBatch(ctx, w.batchSize, w.lease)
	if err != nil {
		w.log.Warn("⚠️ Error al reclamar entradas del outbox", zap.Error(err))
		return
	}
	if len(entries) > 0 {
		w.log.Info(fmt.Sprintf("📬 %d entradas reclamadas para publicar", len(entries)))
	}

	for _, entry := range entries {
		w.publishAndMark(ctx, entry)
	}
}

func (w *Worker) publishAndMark(ctx context.Context, entry sharedDomain.OutboxEntry) {
	env, err := sharedEvents.ToEnvelope(w.source, entry.Event)
	if err != nil {
		// Payload no serializable: no va a mejorar con reintentos.
		w.log.Error("Entrada de outbox no serializable, se marca como muerta",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
		if err := w.repo.MarkDead(ctx, entry.ID); err != nil {
			w.log.Warn("⚠️ No se pudo marcar la entrada como muerta", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
		return
	}

	if err := w.publisher.Publish(ctx, env); err != nil {
		attempts := entry.Attempts + 1
		if attempts >= w.maxAttempts {
			w.log.Error("💀 Entrada de outbox agotó sus reintentos",
				zap.String("entry_id", entry.ID.String()),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			if err := w.repo.MarkDead(ctx, entry.ID); err != nil {
				w.log.Warn("⚠️ No se pudo marcar la entrada como muerta", zap.String("entry_id", entry.ID.String()), zap.Error(err))
			}
			return
		}

		next := time.Now().UTC().Add(sharedUtils.Backoff(w.backoffBase, w.backoffMax, attempts))
		w.log.Warn("⚠️ No se pudo publicar la entrada, reintento programado",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(err),
		)
		if err := w.repo.MarkFailed(ctx, entry.ID, attempts, next); err != nil {
			w.log.Warn("⚠️ No se pudo registrar el fallo de la entrada", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
		return
	}

	if err := w.repo.MarkDelivered(ctx, entry.ID); err != nil {
		// El bus ya tiene el evento: si esto falla habrá un reenvío, que los
		// consumidores descartan por eventId.
		w.log.Warn("⚠️ No se pudo marcar la entrada como entregada",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	} else {
		w.log.Info("✅ Entrada publicada y marcada", zap.String("entry_id", entry.ID.String()))
	}
}
