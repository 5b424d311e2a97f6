// Package dapp is the policy gatekeeper: dapp onboarding, instance API keys,
// prepaid balances, and per-request sponsorship admission.
package dapp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/internal/metrics"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
)

var (
	// ErrDAppNotActive is returned when the dapp is suspended or banned.
	ErrDAppNotActive = errors.New("dapp is not active")
	// ErrDAppDenylisted is returned when the dapp is on the denylist.
	ErrDAppDenylisted = errors.New("dapp is denylisted")
	// ErrInstanceExists is returned when the dapp already has an instance on
	// the requested chain.
	ErrInstanceExists = errors.New("dapp instance already exists for chain")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("amount must be non-negative")
)

// denial reasons reported via the policy denial counter.
const (
	denialDAppInactive   = "dapp_inactive"
	denialDAppDenylisted = "dapp_denylisted"
	denialDailyCap       = "daily_cap"
)

const casRetries = 3

// Store is the registry surface the gatekeeper needs.
type Store interface {
	GetChainConfig(ctx context.Context, chainID uint64) (*registry.ChainConfig, error)

	CreateDApp(ctx context.Context, dapp *registry.DApp) error
	GetDApp(ctx context.Context, dappID string) (*registry.DApp, error)
	UpdateDApp(ctx context.Context, dapp *registry.DApp) error

	CreateInstance(ctx context.Context, inst *registry.Instance) error
	GetInstance(ctx context.Context, instanceID string) (*registry.Instance, error)
	GetInstanceByKeyDigest(ctx context.Context, digest string) (*registry.Instance, error)
	UpdateInstance(ctx context.Context, inst *registry.Instance) error
}

// Ledger records audit entries for onboarding and deposits.
type Ledger interface {
	Record(entry *registry.LedgerEntry)
}

// Service implements the policy gatekeeper.
type Service struct {
	store  Store
	ledger Ledger
	keys   *KeyIssuer
	logger *zap.Logger

	defaultDailyCap   *big.Int
	defaultPerUserCap *big.Int
}

// NewService creates a gatekeeper service. Default policy caps come from the
// policy configuration as native-unit decimals.
func NewService(store Store, ledger Ledger, keys *KeyIssuer, cfg config.PolicyConfig, logger *zap.Logger) (*Service, error) {
	dailyCap, err := registry.ParseNative(cfg.DailyGasCap)
	if err != nil {
		return nil, fmt.Errorf("invalid daily gas cap: %w", err)
	}
	perUserCap, err := registry.ParseNative(cfg.PerUserDailyCap)
	if err != nil {
		return nil, fmt.Errorf("invalid per-user daily cap: %w", err)
	}
	return &Service{
		store:             store,
		ledger:            ledger,
		keys:              keys,
		logger:            logger,
		defaultDailyCap:   dailyCap,
		defaultPerUserCap: perUserCap,
	}, nil
}

// RegisterDApp creates a new dapp account in ACTIVE status.
func (s *Service) RegisterDApp(ctx context.Context, ownerID, name string) (*registry.DApp, error) {
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("owner id and name are required")
	}

	dapp := &registry.DApp{
		DAppID:    uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Status:    registry.DAppStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDApp(ctx, dapp); err != nil {
		return nil, fmt.Errorf("failed to create dapp: %w", err)
	}

	s.logger.Info("Registered dapp",
		zap.String("dapp_id", dapp.DAppID),
		zap.String("owner_id", ownerID),
		zap.String("name", name))
	s.ledger.Record(&registry.LedgerEntry{
		Type:   registry.EntryTypeAudit,
		DAppID: dapp.DAppID,
		Reason: "dapp registered",
	})
	return dapp, nil
}

// CreateInstance enrolls a dapp on a chain and returns the instance together
// with its API key. The key is shown exactly once; only its digest persists.
func (s *Service) CreateInstance(ctx context.Context, dappID string, chainID uint64) (*registry.Instance, string, error) {
	dapp, err := s.store.GetDApp(ctx, dappID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load dapp %s: %w", dappID, err)
	}
	if dapp.Denylisted {
		return nil, "", ErrDAppDenylisted
	}
	if dapp.Status != registry.DAppStatusActive {
		return nil, "", fmt.Errorf("%w: status %s", ErrDAppNotActive, dapp.Status)
	}
	if _, err := s.store.GetChainConfig(ctx, chainID); err != nil {
		return nil, "", fmt.Errorf("failed to load chain %d: %w", chainID, err)
	}
	for _, id := range dapp.AllowedChains {
		if id == chainID {
			return nil, "", ErrInstanceExists
		}
	}

	instanceID := uuid.NewString()
	apiKey, err := s.keys.Issue(instanceID, dappID, chainID)
	if err != nil {
		return nil, "", err
	}

	inst := &registry.Instance{
		InstanceID: instanceID,
		DAppID:     dappID,
		ChainID:    chainID,
		KeyDigest:  Digest(apiKey),
		Balance:    big.NewInt(0),
		Policy: registry.Policy{
			Scheme:          "SPONSOR_ALL",
			DailyGasCap:     new(big.Int).Set(s.defaultDailyCap),
			PerUserDailyCap: new(big.Int).Set(s.defaultPerUserCap),
		},
		Analytics: registry.Analytics{
			TotalSponsored: big.NewInt(0),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, "", fmt.Errorf("failed to create instance: %w", err)
	}

	dapp.AllowedChains = append(dapp.AllowedChains, chainID)
	if err := s.store.UpdateDApp(ctx, dapp); err != nil {
		return nil, "", fmt.Errorf("failed to record allowed chain: %w", err)
	}

	s.logger.Info("Created dapp instance",
		zap.String("instance_id", instanceID),
		zap.String("dapp_id", dappID),
		zap.Uint64("chain_id", chainID))
	s.ledger.Record(&registry.LedgerEntry{
		Type:    registry.EntryTypeAudit,
		ChainID: chainID,
		DAppID:  dappID,
		Reason:  fmt.Sprintf("instance %s created", instanceID),
	})
	return inst, apiKey, nil
}

// Deposit credits a prepaid amount to an instance balance.
func (s *Service) Deposit(ctx context.Context, instanceID string, amount *big.Int) (*registry.Instance, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	var inst *registry.Instance
	err := s.updateInstance(ctx, instanceID, func(i *registry.Instance) {
		i.Balance = new(big.Int).Add(i.Balance, amount)
		inst = i
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposited to instance",
		zap.String("instance_id", instanceID),
		zap.String("amount", registry.FormatAmount(amount)))
	s.ledger.Record(&registry.LedgerEntry{
		Type:    registry.EntryTypeAudit,
		ChainID: inst.ChainID,
		DAppID:  inst.DAppID,
		Amount:  new(big.Int).Set(amount),
		Reason:  fmt.Sprintf("deposit to instance %s", instanceID),
	})
	return inst, nil
}

// ValidateRequest decides whether a sponsorship request is admissible. A
// false result is a policy decision, not an error; errors mean the decision
// could not be made.
//
// The daily gas cap is enforced against the instance's cumulative sponsored
// total, so a capped instance stays capped until the cap is raised.
func (s *Service) ValidateRequest(ctx context.Context, instanceID, userID string, estimatedCost *big.Int) (bool, error) {
	if estimatedCost == nil || estimatedCost.Sign() < 0 {
		return false, ErrInvalidAmount
	}

	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}
	dapp, err := s.store.GetDApp(ctx, inst.DAppID)
	if err != nil {
		return false, fmt.Errorf("failed to load dapp %s: %w", inst.DAppID, err)
	}

	if dapp.Denylisted {
		return s.deny(inst, userID, denialDAppDenylisted), nil
	}
	if dapp.Status != registry.DAppStatusActive {
		return s.deny(inst, userID, denialDAppInactive), nil
	}

	projected := new(big.Int).Add(inst.Analytics.TotalSponsored, estimatedCost)
	if inst.Policy.DailyGasCap != nil && projected.Cmp(inst.Policy.DailyGasCap) > 0 {
		return s.deny(inst, userID, denialDailyCap), nil
	}
	return true, nil
}

func (s *Service) deny(inst *registry.Instance, userID, reason string) bool {
	metrics.PolicyDenials.WithLabelValues(reason).Inc()
	s.logger.Info("Denied sponsorship request",
		zap.String("instance_id", inst.InstanceID),
		zap.String("dapp_id", inst.DAppID),
		zap.String("user_id", userID),
		zap.String("reason", reason))
	return false
}

// RecordSponsorship advances the instance's sponsorship counters after a
// sponsored transaction completes.
func (s *Service) RecordSponsorship(ctx context.Context, instanceID string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return s.updateInstance(ctx, instanceID, func(i *registry.Instance) {
		i.Analytics.TotalSponsored = new(big.Int).Add(i.Analytics.TotalSponsored, amount)
		i.Analytics.TxCount++
	})
}

// AuthenticateKey verifies a presented API key and resolves its instance.
// The key must both carry a valid signature and match a stored digest, so a
// key for a deleted instance stops working without any revocation list.
func (s *Service) AuthenticateKey(ctx context.Context, apiKey string) (*registry.Instance, error) {
	instanceID, err := s.keys.Verify(apiKey)
	if err != nil {
		return nil, err
	}
	inst, err := s.store.GetInstanceByKeyDigest(ctx, Digest(apiKey))
	if err != nil {
		if errors.Is(err, registrystore.ErrInstanceNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if inst.InstanceID != instanceID {
		return nil, ErrInvalidAPIKey
	}
	return inst, nil
}

// updateInstance applies mutate under optimistic concurrency, reloading and
// retrying on version conflicts.
func (s *Service) updateInstance(ctx context.Context, instanceID string, mutate func(*registry.Instance)) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		inst, err := s.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to load instance %s: %w", instanceID, err)
		}
		mutate(inst)
		err = s.store.UpdateInstance(ctx, inst)
		if err == nil {
			return nil
		}
		if !errors.Is(err, registrystore.ErrVersionConflict) {
			return fmt.Errorf("failed to update instance %s: %w", instanceID, err)
		}
	}
	return fmt.Errorf("failed to update instance %s: %w", instanceID, registrystore.ErrVersionConflict)
}
