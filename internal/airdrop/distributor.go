package airdrop

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/events"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/internal/token"
	"merkle-airdrop/pkg/logger"
)

// Config 描述一个分发器实例的不可变参数。
type Config struct {
	// Address 是分发器在账本上的持币身份。
	Address common.Address
	Token   common.Address
	Root    common.Hash
	Owner   common.Address
}

// Validate 检查构造参数；零值根视为未配置。
func (c Config) Validate() error {
	switch {
	case c.Address == (common.Address{}):
		return xerrors.New(xerrors.CodeInvalidArgument, "分发器地址不能为空")
	case c.Token == (common.Address{}):
		return xerrors.New(xerrors.CodeInvalidArgument, "代币地址不能为空")
	case c.Owner == (common.Address{}):
		return xerrors.New(xerrors.CodeInvalidArgument, "owner 地址不能为空")
	case c.Root == (common.Hash{}):
		return xerrors.New(xerrors.CodeInvalidArgument, "Merkle 根不能为空")
	}
	return nil
}

// Receipt 是一次成功领取的回执。
type Receipt struct {
	Distributor common.Address `json:"distributor"`
	Claimant    common.Address `json:"claimant"`
	Amount      *big.Int       `json:"amount"`
	Leaf        common.Hash    `json:"leaf"`
	ClaimedAt   int64          `json:"claimed_at"`
}

// Info 汇总分发器的配置与余额。
type Info struct {
	Address common.Address `json:"address"`
	Token   common.Address `json:"token"`
	Root    common.Hash    `json:"merkle_root"`
	Owner   common.Address `json:"owner"`
	Balance *big.Int       `json:"balance"`
}

// Distributor 按 Merkle 证明向地址发放代币，每个地址仅可领取一次。
type Distributor struct {
	cfg       Config
	store     Store
	sequencer Sequencer
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Distributor)

// WithSequencer 替换默认的进程内 Sequencer。
func WithSequencer(seq Sequencer) Option {
	return func(d *Distributor) {
		if seq != nil {
			d.sequencer = seq
		}
	}
}

// WithPublisher 配置事件发布器。
func WithPublisher(pub events.Publisher) Option {
	return func(d *Distributor) {
		if pub != nil {
			d.publisher = pub
		}
	}
}

// WithObserver 配置指标观察者。
func WithObserver(obs Observer) Option {
	return func(d *Distributor) {
		if obs != nil {
			d.observer = obs
		}
	}
}

// WithLogger 指定运行日志。
func WithLogger(l *slog.Logger) Option {
	return func(d *Distributor) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(d *Distributor) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDistributor 构造分发器。
func NewDistributor(cfg Config, store Store, opts ...Option) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "分发器缺少状态存储")
	}
	d := &Distributor{
		cfg:       cfg,
		store:     store,
		sequencer: NewLocalSequencer(),
		publisher: events.NopPublisher{},
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("airdrop")
	}
	return d, nil
}

// Config 返回分发器参数。
func (d *Distributor) Config() Config {
	return d.cfg
}

// ClaimTokens 在 caller 首次领取时校验 (caller, amount) 的 Merkle 证明，并把 amount
// 从分发器余额转给 caller。已领取的地址无论携带何种证明都返回 ErrAlreadyClaimed。
// 标记领取与转账在同一个工作单元内完成。
func (d *Distributor) ClaimTokens(ctx context.Context, caller common.Address, amount *big.Int, proof []common.Hash) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 || amount.BitLen() > 256 {
		d.observer.ObserveClaim(OutcomeError, amount)
		return nil, ErrInvalidClaim
	}
	leaf, err := proofs.LeafHash(caller, amount)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidClaim, err, "")
	}

	release, err := d.sequencer.Acquire(ctx)
	if err != nil {
		d.observer.ObserveClaim(OutcomeError, amount)
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "")
	}
	defer release()

	receipt := &Receipt{
		Distributor: d.cfg.Address,
		Claimant:    caller,
		Amount:      new(big.Int).Set(amount),
		Leaf:        leaf,
		ClaimedAt:   d.now().Unix(),
	}
	err = d.store.Update(ctx, func(tx Tx) error {
		claimed, err := tx.IsClaimed(ctx, d.cfg.Address, caller)
		if err != nil {
			return err
		}
		if claimed {
			return ErrAlreadyClaimed
		}
		if !proofs.Verify(proof, d.cfg.Root, leaf) {
			return ErrInvalidProof
		}
		if err := tx.MarkClaimed(ctx, Claim{
			Distributor: d.cfg.Address,
			Claimant:    caller,
			Amount:      receipt.Amount,
			Leaf:        leaf,
			ClaimedAt:   receipt.ClaimedAt,
		}); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, d.cfg.Token, d.cfg.Address, caller, amount); err != nil {
			if stdErrors.Is(err, token.ErrInsufficientBalance) {
				return xerrors.Wrap(CodeTransferFailed, err, ErrTransferFailed.Message())
			}
			return err
		}
		return nil
	})
	if err != nil {
		d.observer.ObserveClaim(claimOutcome(err), amount)
		d.audit("airdrop_claim_rejected", caller, amount, err)
		return nil, err
	}

	d.observer.ObserveClaim(OutcomeClaimed, amount)
	d.audit("airdrop_claimed", caller, amount, nil)
	d.publish(ctx, events.Event{
		Type:    events.TypeClaimed,
		Account: caller.Hex(),
		Amount:  amount.String(),
		Leaf:    leaf.Hex(),
	})
	return receipt, nil
}

// WithdrawRemainingTokens 把分发器的全部剩余余额转给 owner，余额为零时不做任何转账。
func (d *Distributor) WithdrawRemainingTokens(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != d.cfg.Owner {
		d.audit("airdrop_withdraw_rejected", caller, nil, ErrUnauthorized)
		return nil, ErrUnauthorized
	}

	release, err := d.sequencer.Acquire(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "")
	}
	defer release()

	withdrawn := new(big.Int)
	err = d.store.Update(ctx, func(tx Tx) error {
		balance, err := tx.BalanceOf(ctx, d.cfg.Token, d.cfg.Address)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return nil
		}
		if err := tx.Transfer(ctx, d.cfg.Token, d.cfg.Address, d.cfg.Owner, balance); err != nil {
			if stdErrors.Is(err, token.ErrInsufficientBalance) {
				return xerrors.Wrap(CodeTransferFailed, err, ErrTransferFailed.Message())
			}
			return err
		}
		withdrawn.Set(balance)
		return nil
	})
	if err != nil {
		d.audit("airdrop_withdraw_failed", caller, nil, err)
		return nil, err
	}

	d.observer.ObserveWithdraw(withdrawn)
	d.audit("airdrop_withdrawn", caller, withdrawn, nil)
	if withdrawn.Sign() > 0 {
		d.publish(ctx, events.Event{
			Type:    events.TypeWithdrawn,
			Account: caller.Hex(),
			Amount:  withdrawn.String(),
		})
	}
	return withdrawn, nil
}

// IsClaimed 返回地址是否已经领取。
func (d *Distributor) IsClaimed(ctx context.Context, claimant common.Address) (bool, error) {
	var claimed bool
	err := d.store.View(ctx, func(tx Tx) error {
		var err error
		claimed, err = tx.IsClaimed(ctx, d.cfg.Address, claimant)
		return err
	})
	return claimed, err
}

// BalanceOf 查询任意持有人的代币余额。
func (d *Distributor) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	var balance *big.Int
	err := d.store.View(ctx, func(tx Tx) error {
		var err error
		balance, err = tx.BalanceOf(ctx, d.cfg.Token, holder)
		return err
	})
	return balance, err
}

// Info 返回配置与当前余额。
func (d *Distributor) Info(ctx context.Context) (Info, error) {
	balance, err := d.BalanceOf(ctx, d.cfg.Address)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Address: d.cfg.Address,
		Token:   d.cfg.Token,
		Root:    d.cfg.Root,
		Owner:   d.cfg.Owner,
		Balance: balance,
	}, nil
}

// Claims 分页返回领取记录。
func (d *Distributor) Claims(ctx context.Context, limit, offset int) ([]Claim, error) {
	return d.store.ListClaims(ctx, d.cfg.Address, limit, offset)
}

func (d *Distributor) publish(ctx context.Context, event events.Event) {
	event.ID = uuid.NewString()
	event.Distributor = d.cfg.Address.Hex()
	event.Token = d.cfg.Token.Hex()
	event.OccurredAt = d.now()
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Error("发布事件失败",
			slog.Any("error", err),
			slog.String("event_type", string(event.Type)),
			slog.String("account", event.Account),
		)
	}
}

func (d *Distributor) audit(event string, caller common.Address, amount *big.Int, err error) {
	attrs := []any{
		slog.String("distributor", d.cfg.Address.Hex()),
		slog.String("caller", caller.Hex()),
	}
	if amount != nil {
		attrs = append(attrs, slog.String("amount", amount.String()))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		logger.Audit().Warn(event, attrs...)
		return
	}
	logger.Audit().Info(event, attrs...)
}

func claimOutcome(err error) string {
	switch {
	case stdErrors.Is(err, ErrAlreadyClaimed):
		return OutcomeAlreadyClaimed
	case stdErrors.Is(err, ErrInvalidProof):
		return OutcomeInvalidProof
	case stdErrors.Is(err, ErrTransferFailed):
		return OutcomeTransferFailed
	default:
		return OutcomeError
	}
}

// String 便于日志输出。
func (r *Receipt) String() string {
	return fmt.Sprintf("%s claimed %s from %s", r.Claimant.Hex(), r.Amount, r.Distributor.Hex())
}
