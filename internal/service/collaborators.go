package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/crosschain"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/swap"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Sender 以服务账户发送交易
type Sender interface {
	From() common.Address
	Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error)
}

// TokenCollector 从玩家地址划入代币 (需玩家预先授权)
type TokenCollector interface {
	CollectFrom(ctx context.Context, from string, amount *big.Int) error
	CollectAsset(ctx context.Context, token, from string, amount *big.Int) error
}

// Transferer 向外转出资金
type Transferer interface {
	Transfer(ctx context.Context, asset model.Asset, to string, amount *big.Int) (string, error)
}

// CredentialChecker 参与凭证 (ERC721) 持有检查
type CredentialChecker interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// VRFParams 随机数请求参数
type VRFParams struct {
	CallbackGas   uint32
	Confirmations uint16
	NumWords      uint32
}

// RandomnessProvider 随机数服务
type RandomnessProvider interface {
	Request(ctx context.Context, params VRFParams) (string, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// FeeQuoter 原生币入场费报价
type FeeQuoter interface {
	Quote(ctx context.Context) (*pricing.FeeQuote, error)
	EntryFee() *big.Int
}

// SlippageRecorder 兑换结果反馈
type SlippageRecorder interface {
	RecordSwap(ctx context.Context, success bool) (int64, error)
}

// Swapper 原生币兑换平台代币
type Swapper interface {
	SwapNativeForFixedToken(ctx context.Context, target, maxNativeIn *big.Int) (*swap.Result, error)
}

// MessageTransport 跨链消息传输
type MessageTransport interface {
	ChainID() uint64
	EstimateFee(ctx context.Context, dest uint64, payload []byte) (*big.Int, error)
	Send(ctx context.Context, dest uint64, payload []byte, fee *big.Int) (string, error)
	Verify(ctx context.Context, env *crosschain.Envelope) error
}

// ChainReader 链上交易查询
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Deposit 已上链的原生币入金
type Deposit struct {
	TxHash      string
	From        string
	Value       *big.Int
	BlockNumber uint64
}

// DepositVerifier 原生币入金校验
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, txHash string) (*Deposit, error)
}

// FulfillmentVerifier 随机数回调链上校验
type FulfillmentVerifier interface {
	VerifyFulfillment(ctx context.Context, msg *model.RandomnessFulfilled, words []*big.Int) error
}

// AssetQuoter 替代支付资产报价
type AssetQuoter interface {
	Asset(ctx context.Context, symbol string) (*model.PaymentAsset, error)
	QuoteAsset(ctx context.Context, symbol string, nativeAmount *big.Int) (*big.Int, error)
}

// ChainTreasury 链上资金托管: 划入玩家代币, 转出提取与恢复资金
type ChainTreasury struct {
	sender   Sender
	token    *contract.ERC20Contract
	caller   contract.Caller
	treasury common.Address

	mu     sync.Mutex
	assets map[common.Address]*contract.ERC20Contract
}

// NewChainTreasury 创建资金托管, treasury 为空时使用发送账户
func NewChainTreasury(sender Sender, token *contract.ERC20Contract, caller contract.Caller, treasury common.Address) *ChainTreasury {
	if treasury == (common.Address{}) {
		treasury = sender.From()
	}
	return &ChainTreasury{
		sender:   sender,
		token:    token,
		caller:   caller,
		treasury: treasury,
		assets:   make(map[common.Address]*contract.ERC20Contract),
	}
}

// CollectFrom 划入平台代币
func (t *ChainTreasury) CollectFrom(ctx context.Context, from string, amount *big.Int) error {
	return t.collect(ctx, t.token, from, amount)
}

// CollectAsset 划入替代支付资产
func (t *ChainTreasury) CollectAsset(ctx context.Context, token, from string, amount *big.Int) error {
	c, err := t.asset(common.HexToAddress(token))
	if err != nil {
		return err
	}
	return t.collect(ctx, c, from, amount)
}

func (t *ChainTreasury) collect(ctx context.Context, token *contract.ERC20Contract, from string, amount *big.Int) error {
	owner := common.HexToAddress(from)
	allowance, err := token.Allowance(ctx, owner, t.sender.From())
	if err != nil {
		return errors.Wrapf(errors.ErrTransferFailed, err, "查询授权额度失败")
	}
	if allowance.Cmp(amount) < 0 {
		return errors.ErrInsufficientPayment.WithMessagef("授权额度 %s 不足 %s", allowance, amount)
	}
	data, err := token.PackTransferFrom(owner, t.treasury, amount)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err)
	}
	if _, err := t.sender.Transact(ctx, token.Address(), data, nil); err != nil {
		return errors.Wrapf(errors.ErrInsufficientPayment, err, "划转失败")
	}
	return nil
}

// Transfer 转出平台代币或原生币
func (t *ChainTreasury) Transfer(ctx context.Context, asset model.Asset, to string, amount *big.Int) (string, error) {
	recipient := common.HexToAddress(to)
	var receipt *types.Receipt
	var err error
	if asset == model.AssetNative {
		receipt, err = t.sender.Transact(ctx, recipient, nil, amount)
	} else {
		data, packErr := t.token.PackTransfer(recipient, amount)
		if packErr != nil {
			return "", packErr
		}
		receipt, err = t.sender.Transact(ctx, t.token.Address(), data, nil)
	}
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (t *ChainTreasury) asset(addr common.Address) (*contract.ERC20Contract, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.assets[addr]; ok {
		return c, nil
	}
	c, err := contract.NewERC20Contract(addr, t.caller)
	if err != nil {
		return nil, err
	}
	t.assets[addr] = c
	return c, nil
}

// ChainDeposits 按交易回执校验转入收款地址的原生币
type ChainDeposits struct {
	reader   ChainReader
	signer   types.Signer
	receiver common.Address
}

// NewChainDeposits 创建入金校验, receiver 为原生币收款地址
func NewChainDeposits(reader ChainReader, chainID *big.Int, receiver common.Address) *ChainDeposits {
	return &ChainDeposits{
		reader:   reader,
		signer:   types.LatestSignerForChainID(chainID),
		receiver: receiver,
	}
}

// VerifyDeposit 校验交易已成功上链且转入收款地址, 返回实际发送方与金额
func (d *ChainDeposits) VerifyDeposit(ctx context.Context, txHash string) (*Deposit, error) {
	if !isTxHash(txHash) {
		return nil, errors.ErrDepositInvalid.WithMessage("交易哈希格式错误")
	}
	hash := common.HexToHash(txHash)

	tx, pending, err := d.reader.TransactionByHash(ctx, hash)
	if stderrors.Is(err, ethereum.NotFound) {
		return nil, errors.ErrDepositInvalid.WithMessage("交易不存在")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrChainLookup, err)
	}
	if pending {
		return nil, errors.ErrDepositInvalid.WithMessage("交易尚未上链")
	}
	if tx.To() == nil || *tx.To() != d.receiver {
		return nil, errors.ErrDepositInvalid.WithMessage("收款地址不符")
	}
	if tx.Value().Sign() <= 0 {
		return nil, errors.ErrDepositInvalid.WithMessage("交易未转入原生币")
	}

	receipt, err := d.reader.TransactionReceipt(ctx, hash)
	if stderrors.Is(err, ethereum.NotFound) {
		return nil, errors.ErrDepositInvalid.WithMessage("交易尚未上链")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrChainLookup, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.ErrDepositInvalid.WithMessage("交易执行失败")
	}

	from, err := types.Sender(d.signer, tx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDepositInvalid, err, "无法恢复交易发送方")
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &Deposit{
		TxHash:      hash.Hex(),
		From:        from.Hex(),
		Value:       new(big.Int).Set(tx.Value()),
		BlockNumber: block,
	}, nil
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// VRFProvider 基于协调合约的随机数服务
type VRFProvider struct {
	coordinator    *contract.VRFCoordinatorContract
	sender         Sender
	reader         ChainReader
	keyHash        common.Hash
	subscriptionID uint64
}

// NewVRFProvider 创建随机数服务
func NewVRFProvider(coordinator *contract.VRFCoordinatorContract, sender Sender, reader ChainReader, keyHash common.Hash, subscriptionID uint64) *VRFProvider {
	return &VRFProvider{
		coordinator:    coordinator,
		sender:         sender,
		reader:         reader,
		keyHash:        keyHash,
		subscriptionID: subscriptionID,
	}
}

// Request 发起随机数请求, 返回请求 ID
func (p *VRFProvider) Request(ctx context.Context, params VRFParams) (string, error) {
	data, err := p.coordinator.PackRequestRandomWords(contract.RandomWordsRequest{
		KeyHash:          p.keyHash,
		SubscriptionID:   p.subscriptionID,
		Confirmations:    params.Confirmations,
		CallbackGasLimit: params.CallbackGas,
		NumWords:         params.NumWords,
	})
	if err != nil {
		return "", err
	}
	receipt, err := p.sender.Transact(ctx, p.coordinator.Address(), data, nil)
	if err != nil {
		return "", err
	}
	id, err := p.coordinator.ParseRequestID(receipt)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Balance 订阅余额
func (p *VRFProvider) Balance(ctx context.Context) (*big.Int, error) {
	return p.coordinator.SubscriptionBalance(ctx, p.subscriptionID)
}

// VerifyFulfillment 以回调交易回执中的协调合约事件校验随机数
// 回执不存在、事件缺失或随机数不符返回 ErrRandomnessUnverified, 节点查询失败返回依赖错误
func (p *VRFProvider) VerifyFulfillment(ctx context.Context, msg *model.RandomnessFulfilled, words []*big.Int) error {
	if !isTxHash(msg.TxHash) {
		return errors.ErrRandomnessUnverified.WithMessage("回调交易哈希格式错误")
	}
	requestID, ok := new(big.Int).SetString(msg.RequestID, 10)
	if !ok {
		return errors.ErrRandomnessUnverified.WithMessage("请求 ID 格式错误")
	}
	if len(words) == 0 {
		return errors.ErrRandomnessUnverified.WithMessage("随机数为空")
	}

	receipt, err := p.reader.TransactionReceipt(ctx, common.HexToHash(msg.TxHash))
	if stderrors.Is(err, ethereum.NotFound) {
		return errors.ErrRandomnessUnverified.WithMessage("回调交易不存在")
	}
	if err != nil {
		return errors.Wrap(errors.ErrChainLookup, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.ErrRandomnessUnverified.WithMessage("回调交易执行失败")
	}
	if msg.BlockNumber > 0 && (receipt.BlockNumber == nil || receipt.BlockNumber.Int64() != msg.BlockNumber) {
		return errors.ErrRandomnessUnverified.WithMessagef("区块高度不符: 回执 %v, 事件 %d", receipt.BlockNumber, msg.BlockNumber)
	}

	f, err := p.coordinator.ParseFulfillment(receipt, requestID)
	if err != nil {
		return errors.Wrapf(errors.ErrRandomnessUnverified, err, "回执中没有协调合约的回调事件")
	}
	if !f.Success {
		return errors.ErrRandomnessUnverified.WithMessage("协调合约回调失败")
	}
	for i, want := range contract.DeriveRandomWords(f.OutputSeed, len(words)) {
		if words[i].Cmp(want) != 0 {
			return errors.ErrRandomnessUnverified.WithMessagef("第 %d 个随机数与链上结果不符", i)
		}
	}
	return nil
}
