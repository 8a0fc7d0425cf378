package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/credential"
	"github.com/LeventeLantos/social-publisher/internal/metrics"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

// credentialSaveTimeout bounds the write of a refreshed credential. The write
// runs detached from the dispatch context so a rotated token is not lost
// when the run is cancelled after the platform issued it.
const credentialSaveTimeout = 10 * time.Second

// CredentialWriter persists a refreshed credential.
type CredentialWriter interface {
	UpdateAccountCredential(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt *time.Time) error
}

// Dispatcher runs the whole sequence for one target and always returns an
// Outcome: guard, refresh, publish, then the optional follow-up.
type Dispatcher struct {
	registry *platform.Registry
	guard    *credential.Guard
	creds    CredentialWriter
	metrics  *metrics.Collector
	log      *slog.Logger
}

func NewDispatcher(registry *platform.Registry, guard *credential.Guard, creds CredentialWriter) *Dispatcher {
	if guard == nil {
		guard = credential.NewGuard(credential.DefaultLookahead)
	}
	return &Dispatcher{
		registry: registry,
		guard:    guard,
		creds:    creds,
		log:      slog.Default(),
	}
}

func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	if l != nil {
		d.log = l
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.Collector) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, content model.ContentItem, target model.Target, account model.Account) (out model.Outcome) {
	start := time.Now()
	log := d.log.With(
		"content_id", content.ID,
		"target_id", target.ID,
		"account_id", account.ID,
		"platform", string(account.Platform),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panic recovered", "panic", r)
			out = failure(target.ID, account, platform.Errorf(platform.Unknown, "internal error: %v", r))
		}
		d.metrics.ObserveDispatch(string(account.Platform), out.Kind, time.Since(start))
		if out.Success {
			log.Info("target published", "post_id", out.PlatformPostID, "duration_ms", time.Since(start).Milliseconds())
		} else {
			log.Warn("target failed", "kind", out.Kind, "error", out.ErrorMessage, "duration_ms", time.Since(start).Milliseconds())
		}
	}()

	if account.ID == 0 || account.ID != target.AccountID {
		return failure(target.ID, account, platform.Errorf(platform.StructuralPrecondition, "account %d not found", target.AccountID))
	}
	adapter, ok := d.registry.Lookup(account.Platform)
	if !ok {
		return failure(target.ID, account, platform.Errorf(platform.StructuralPrecondition, "no adapter registered for platform %q", account.Platform))
	}
	if !account.Active {
		return failure(target.ID, account, platform.Errorf(platform.StructuralPrecondition, "account is deactivated; reconnect it to publish"))
	}
	if perr := adapter.Rules().Check(account.Platform, account, content); perr != nil {
		return failure(target.ID, account, perr)
	}

	account, perr := d.ensureCredential(ctx, log, adapter, account)
	if perr != nil {
		return failure(target.ID, account, perr)
	}

	res := adapter.Publish(ctx, account, content)
	if !res.Ok() {
		return failure(target.ID, account, res.Err)
	}
	out = model.Succeeded(target.ID, res.Value.ID)

	if content.FollowUpText != "" {
		out.FollowUpFailed = !d.followUp(ctx, log, adapter, account, res.Value.ID, content.FollowUpText)
	}
	return out
}

// ensureCredential returns the account with a credential that is safe to
// publish with. A refreshed credential is persisted before it is returned.
func (d *Dispatcher) ensureCredential(ctx context.Context, log *slog.Logger, adapter platform.Adapter, account model.Account) (model.Account, *platform.Error) {
	verdict := d.guard.Check(account)
	switch verdict.Decision {
	case credential.Invalid:
		return account, platform.Errorf(platform.CredentialInvalid, "%s; reconnect the account", verdict.Reason)
	case credential.NeedsRefresh:
		log.Info("refreshing credential", "reason", verdict.Reason)
		return d.refresh(ctx, log, adapter, account)
	}

	v, ok := adapter.(platform.Validator)
	if !adapter.Rules().RemoteValidation || !ok {
		return account, nil
	}
	verdict, perr := d.guard.Validate(ctx, v, account)
	if perr != nil {
		return account, perr
	}
	switch verdict.Decision {
	case credential.Invalid:
		return account, platform.Errorf(platform.CredentialInvalid, "%s; reconnect the account", verdict.Reason)
	case credential.NeedsRefresh:
		log.Info("refreshing credential", "reason", verdict.Reason)
		return d.refresh(ctx, log, adapter, account)
	}
	return account, nil
}

func (d *Dispatcher) refresh(ctx context.Context, log *slog.Logger, adapter platform.Adapter, account model.Account) (model.Account, *platform.Error) {
	r, ok := adapter.(platform.Refresher)
	if !ok {
		return account, platform.Errorf(platform.CredentialInvalid, "%s tokens cannot be refreshed; reconnect the account", account.Platform)
	}

	res := r.RefreshCredential(ctx, account.RefreshToken)
	d.metrics.ObserveRefresh(string(account.Platform), res.Ok())
	if !res.Ok() {
		return account, res.Err
	}

	cred := res.Value
	if cred.RefreshToken == "" {
		cred.RefreshToken = account.RefreshToken
	}
	if err := d.saveCredential(ctx, account.ID, cred); err != nil {
		return account, platform.Errorf(platform.Unknown, "refreshed credential could not be saved: %v", err)
	}
	log.Info("credential refreshed", "expires_at", cred.ExpiresAt)

	account.AccessToken = cred.AccessToken
	account.RefreshToken = cred.RefreshToken
	account.ExpiresAt = cred.ExpiresAt
	return account, nil
}

func (d *Dispatcher) saveCredential(ctx context.Context, accountID int64, cred platform.Credential) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), credentialSaveTimeout)
	defer cancel()
	return d.creds.UpdateAccountCredential(ctx, accountID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt)
}

// followUp posts the follow-up comment. Its failure is logged and never
// changes the target's result.
func (d *Dispatcher) followUp(ctx context.Context, log *slog.Logger, adapter platform.Adapter, account model.Account, postID, text string) bool {
	fp, ok := adapter.(platform.FollowUpPoster)
	if !ok {
		log.Debug("platform has no follow-up support; skipping")
		return true
	}
	res := fp.PostFollowUp(ctx, account, postID, text)
	if !res.Ok() {
		d.metrics.ObserveFollowUpFailure(string(account.Platform))
		log.Warn("follow-up failed", "post_id", postID, "kind", string(res.Err.Kind), "error", res.Err.Error())
		return false
	}
	log.Debug("follow-up posted", "post_id", postID, "follow_up_id", res.Value)
	return true
}

// describe names the destination for operator-facing messages.
func describe(account model.Account) string {
	if account.Platform == "" {
		return "unknown account"
	}
	return fmt.Sprintf("%s (%s)", account.Platform, account.Label())
}

func failure(targetID int64, account model.Account, perr *platform.Error) model.Outcome {
	return model.Failed(targetID, string(perr.Kind), describe(account)+": "+perr.Error())
}
