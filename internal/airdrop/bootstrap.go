package airdrop

import (
	"context"
	"math/big"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/pkg/logger"
)

// Funding 描述本地账本的初始化参数。
type Funding struct {
	// InitialSupply 在总量为零时铸造给 owner。
	InitialSupply *big.Int
	// Amount 是 owner 转入分发器的数额，为空或为零时跳过。
	Amount *big.Int
}

// Bootstrap 在账本尚未铸币时为 owner 铸造初始供应，并按需向分发器注资。
// 注资与注资记录在同一个工作单元内提交，同一分发器只会被注资一次，
// 因此可以在每次启动时调用。
func Bootstrap(ctx context.Context, store Store, funder Funder, cfg Config, funding Funding) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if store == nil || funder == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "初始化账本需要可铸币的存储")
	}
	log := logger.Named("airdrop")

	supply, err := funder.TotalSupply(ctx, cfg.Token)
	if err != nil {
		return err
	}
	if supply.Sign() == 0 && funding.InitialSupply != nil && funding.InitialSupply.Sign() > 0 {
		if err := funder.Mint(ctx, cfg.Token, cfg.Owner, funding.InitialSupply); err != nil {
			return err
		}
		log.Info("已铸造初始供应",
			"token", cfg.Token.Hex(),
			"owner", cfg.Owner.Hex(),
			"amount", funding.InitialSupply.String(),
		)
	}

	if funding.Amount == nil || funding.Amount.Sign() == 0 {
		return nil
	}
	funded := false
	if err := store.Update(ctx, func(tx Tx) error {
		first, err := tx.RecordFunding(ctx, cfg.Address, funding.Amount)
		if err != nil || !first {
			return err
		}
		funded = true
		return tx.Transfer(ctx, cfg.Token, cfg.Owner, cfg.Address, funding.Amount)
	}); err != nil {
		return xerrors.Wrap(CodeTransferFailed, err, "向分发器注资失败")
	}
	if !funded {
		log.Info("分发器已注资，跳过", "distributor", cfg.Address.Hex())
		return nil
	}
	log.Info("已向分发器注资",
		"distributor", cfg.Address.Hex(),
		"amount", funding.Amount.String(),
	)
	return nil
}
