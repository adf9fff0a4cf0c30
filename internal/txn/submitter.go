package txn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkarrer/swapdesk/internal/metrics"
	"github.com/mkarrer/swapdesk/internal/retry"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

const (
	// DefaultConfirmTimeout bounds the confirmation wait.
	DefaultConfirmTimeout = 60 * time.Second

	// DefaultSendMaxRetries bounds local rebroadcast attempts. Best
	// effort only: exhausting them means SubmissionError, not proof the
	// transaction never landed.
	DefaultSendMaxRetries = 5

	// confirmPollInterval between signature status checks.
	confirmPollInterval = 2 * time.Second

	sendBaseDelay = 500 * time.Millisecond
)

// Submitter builds, signs, simulates, broadcasts, and confirms
// transactions. It owns the in-flight lifecycle: once Submit returns,
// either the outcome is known or the error says it is not.
type Submitter struct {
	client rpcclient.Client
	logger *slog.Logger

	ConfirmTimeout time.Duration
	SendMaxRetries int
	SkipSimulation bool // tests only
}

// NewSubmitter creates a Submitter with default tuning.
func NewSubmitter(client rpcclient.Client, logger *slog.Logger) *Submitter {
	return &Submitter{
		client:         client,
		logger:         logger,
		ConfirmTimeout: DefaultConfirmTimeout,
		SendMaxRetries: DefaultSendMaxRetries,
	}
}

// Submit compiles and signs instructions, simulates, broadcasts with
// bounded retries, and blocks until confirmed acknowledgment or a
// terminal error. The first signer pays fees.
//
// The operation label is metrics-only; it never changes behaviour.
func (s *Submitter) Submit(ctx context.Context, operation string, instructions []Instruction, signers []wallet.Signer) (string, error) {
	if len(signers) == 0 {
		return "", &ValidationError{Field: "signers", Reason: "at least one signer required"}
	}

	blockhash, err := s.client.GetLatestBlockhash(ctx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(operation, "submission_error").Inc()
		return "", &SubmissionError{Attempts: 0, Err: err}
	}

	msg, err := Compile(signers[0].Address(), blockhash.Hash, instructions)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(operation, "validation_error").Inc()
		return "", err
	}
	tx, err := Sign(msg, signers)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(operation, "validation_error").Inc()
		return "", err
	}
	encoded := tx.EncodeBase64()

	if !s.SkipSimulation {
		sim, err := s.client.SimulateTransaction(ctx, encoded)
		if err != nil {
			metrics.SubmissionsTotal.WithLabelValues(operation, "submission_error").Inc()
			return "", &SubmissionError{Attempts: 0, Err: err}
		}
		if sim.Failed() {
			metrics.SubmissionsTotal.WithLabelValues(operation, "simulation_error").Inc()
			s.logger.Warn("simulation rejected transaction",
				"operation", operation,
				"err", string(sim.Err),
			)
			return "", &SimulationError{Logs: sim.Logs, Err: string(sim.Err)}
		}
	}

	// Broadcast. We already simulated, so tell the node to skip its own
	// preflight; the node still rebroadcasts internally up to maxRetries.
	var signature string
	attempts := 0
	sendErr := retry.Do(ctx, s.SendMaxRetries, sendBaseDelay, func() error {
		attempts++
		sig, err := s.client.SendTransaction(ctx, encoded, rpcclient.SendOptions{
			SkipPreflight: true,
			MaxRetries:    s.SendMaxRetries,
		})
		if err != nil {
			return err
		}
		signature = sig
		return nil
	})
	if sendErr != nil {
		metrics.SubmissionsTotal.WithLabelValues(operation, "submission_error").Inc()
		return "", &SubmissionError{Attempts: attempts, Err: sendErr}
	}

	s.logger.Info("transaction broadcast",
		"operation", operation,
		"signature", signature,
		"attempts", attempts,
	)

	start := time.Now()
	if err := s.waitForConfirmation(ctx, signature); err != nil {
		var te *ConfirmationTimeoutError
		if errors.As(err, &te) {
			metrics.SubmissionsTotal.WithLabelValues(operation, "confirmation_timeout").Inc()
		} else {
			metrics.SubmissionsTotal.WithLabelValues(operation, "execution_error").Inc()
		}
		return signature, err
	}

	metrics.SubmissionsTotal.WithLabelValues(operation, "confirmed").Inc()
	metrics.ConfirmationDuration.Observe(time.Since(start).Seconds())
	return signature, nil
}

// waitForConfirmation polls until the signature reaches confirmed
// acknowledgment, the ledger records it as failed, or the deadline
// passes (the ambiguous outcome).
func (s *Submitter) waitForConfirmation(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, s.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Deadline or caller cancellation after broadcast: either
			// way the outcome is unknown, not a failure.
			return &ConfirmationTimeoutError{Signature: signature}

		case <-ticker.C:
			statuses, err := s.client.GetSignatureStatuses(ctx, []string{signature})
			if err != nil {
				// Transient status-query failure; keep polling until deadline.
				s.logger.Debug("signature status query failed", "signature", signature, "error", err)
				continue
			}
			if len(statuses) == 0 || statuses[0] == nil {
				continue // not observed yet
			}
			st := statuses[0]
			if st.Failed() {
				return &ExecutionError{Signature: signature, Err: string(st.Err)}
			}
			if st.Confirmed() {
				return nil
			}
		}
	}
}
