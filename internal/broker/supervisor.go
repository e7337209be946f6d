package broker

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderflow-io/pipeline/pkg/obs"
)

const (
	backoffStep = 2 * time.Second
	backoffMax  = 30 * time.Second

	// unexpectedRetryDelay is the flat delay after a failure that is not
	// connectivity-class.
	unexpectedRetryDelay = 10 * time.Second
)

// Supervisor keeps the consumer running for the lifetime of the worker,
// reconnecting with capped backoff when the broker is unreachable. It
// terminates only on context cancellation.
type Supervisor struct {
	consumer *Consumer

	// jitter returns the sub-second fuzz added to connectivity backoff.
	jitter func() time.Duration
}

func NewSupervisor(consumer *Consumer) *Supervisor {
	return &Supervisor{
		consumer: consumer,
		jitter: func() time.Duration {
			return time.Duration(rand.Float64() * float64(time.Second))
		},
	}
}

// Run starts the consumer and blocks. After a successful start it waits
// for shutdown or for the broker connection to drop; on failure it backs
// off and starts over. Cancellation during any sleep or start exits
// cleanly.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		obs.Info(ctx, "starting consumer", "attempt", attempt)

		err := s.consumer.Start(ctx)
		if err == nil {
			obs.Info(ctx, "consumer started successfully")

			select {
			case <-ctx.Done():
				s.consumer.Close()
				return nil
			case amqpErr := <-s.consumer.NotifyClose():
				if amqpErr == nil {
					err = amqp.ErrClosed
				} else {
					err = amqpErr
				}
			}
		}

		if ctx.Err() != nil {
			s.consumer.Close()
			return nil
		}

		s.consumer.Close()

		var delay time.Duration
		if isConnectivityError(err) {
			delay = Backoff(attempt) + s.jitter()
			obs.Warn(ctx, "broker unreachable, retrying",
				"attempt", attempt,
				"delay_seconds", delay.Seconds(),
				"error", err.Error(),
			)
		} else {
			delay = unexpectedRetryDelay
			obs.Error(ctx, "unexpected consumer failure, retrying", err,
				"attempt", attempt,
				"delay_seconds", delay.Seconds(),
			)
		}

		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// Backoff returns the reconnect delay for the given attempt number,
// growing by 2s per attempt and capped at 30s. Jitter is added separately.
func Backoff(attempt int) time.Duration {
	delay := time.Duration(attempt) * backoffStep
	if delay > backoffMax {
		delay = backoffMax
	}
	return delay
}

func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sleep waits for the delay, reporting false when cancelled first.
func sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
