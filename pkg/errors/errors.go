package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class 错误分类
type Class int8

const (
	// ClassPrecondition 前置条件不满足, 同步拒绝且不改变状态
	ClassPrecondition Class = iota + 1
	// ClassDependency 外部依赖失败, 本地回退后返回
	ClassDependency
	// ClassInternal 内部错误
	ClassInternal
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Class      Class             `json:"-"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	n := *e
	if e.Details != nil {
		n.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			n.Details[k] = v
		}
	}
	return &n
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	n := e.Copy()
	if n.Details == nil {
		n.Details = make(map[string]string)
	}
	n.Details[key] = value
	return n
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	n := e.Copy()
	n.Message = message
	return n
}

// WithMessagef 格式化替换错误消息
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func newError(code, message string, class Class, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{Code: code, Message: message, Class: class, HTTPStatus: httpStatus, GRPCCode: grpcCode}
}

// Wrap 包装底层错误
func Wrap(err *Error, cause error) *Error {
	n := err.Copy()
	n.Cause = cause
	return n
}

// Wrapf 包装底层错误并追加信息
func Wrapf(err *Error, cause error, format string, args ...interface{}) *Error {
	n := Wrap(err, cause)
	n.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	return n
}

// 通用错误码
var (
	ErrInternal       = newError("INTERNAL_ERROR", "内部错误", ClassInternal, http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest = newError("INVALID_REQUEST", "请求参数无效", ClassPrecondition, http.StatusBadRequest, codes.InvalidArgument)
	ErrUnauthorized   = newError("UNAUTHORIZED", "无管理权限", ClassPrecondition, http.StatusForbidden, codes.PermissionDenied)
	ErrRateLimited    = newError("RATE_LIMITED", "操作过于频繁", ClassPrecondition, http.StatusTooManyRequests, codes.ResourceExhausted)
	ErrInvalidAddress = newError("INVALID_ADDRESS", "地址无效", ClassPrecondition, http.StatusBadRequest, codes.InvalidArgument)
	ErrReentrantCall  = newError("REENTRANT_CALL", "禁止重入调用", ClassPrecondition, http.StatusConflict, codes.Aborted)
)

// 前置条件错误
var (
	ErrRoundFull            = newError("ROUND_FULL", "本轮人数已满", ClassPrecondition, http.StatusConflict, codes.FailedPrecondition)
	ErrDuplicateEntry       = newError("DUPLICATE_ENTRY", "玩家已参与本轮", ClassPrecondition, http.StatusConflict, codes.AlreadyExists)
	ErrCredentialRequired   = newError("CREDENTIAL_REQUIRED", "缺少参与凭证", ClassPrecondition, http.StatusForbidden, codes.PermissionDenied)
	ErrInsufficientPayment  = newError("INSUFFICIENT_PAYMENT", "支付金额不足", ClassPrecondition, http.StatusPaymentRequired, codes.FailedPrecondition)
	ErrInsufficientBalance  = newError("INSUFFICIENT_BALANCE", "余额不足", ClassPrecondition, http.StatusPaymentRequired, codes.FailedPrecondition)
	ErrInvalidRoundState    = newError("INVALID_ROUND_STATE", "轮次状态无效", ClassPrecondition, http.StatusConflict, codes.FailedPrecondition)
	ErrRoundNotFound        = newError("ROUND_NOT_FOUND", "轮次不存在", ClassPrecondition, http.StatusNotFound, codes.NotFound)
	ErrEntryPending         = newError("ENTRY_PENDING", "已有待确认的跨链参与", ClassPrecondition, http.StatusConflict, codes.FailedPrecondition)
	ErrEntriesPaused        = newError("ENTRIES_PAUSED", "参与已暂停", ClassPrecondition, http.StatusServiceUnavailable, codes.Unavailable)
	ErrGameNotFound         = newError("GAME_NOT_FOUND", "对局不存在", ClassPrecondition, http.StatusNotFound, codes.NotFound)
	ErrInvalidGameState     = newError("INVALID_GAME_STATE", "对局状态无效", ClassPrecondition, http.StatusConflict, codes.FailedPrecondition)
	ErrNotGameCreator       = newError("NOT_GAME_CREATOR", "只有创建者可以取消对局", ClassPrecondition, http.StatusForbidden, codes.PermissionDenied)
	ErrTimelockActive       = newError("TIMELOCK_ACTIVE", "时间锁未到期", ClassPrecondition, http.StatusConflict, codes.FailedPrecondition)
	ErrWrongRole            = newError("WRONG_ROLE", "当前部署角色不支持该操作", ClassPrecondition, http.StatusBadRequest, codes.FailedPrecondition)
	ErrAssetNotSupported    = newError("ASSET_NOT_SUPPORTED", "不支持的支付资产", ClassPrecondition, http.StatusBadRequest, codes.InvalidArgument)
	ErrDepositInvalid       = newError("DEPOSIT_INVALID", "入金交易无效", ClassPrecondition, http.StatusBadRequest, codes.InvalidArgument)
	ErrDepositClaimed       = newError("DEPOSIT_CLAIMED", "入金交易已被使用", ClassPrecondition, http.StatusConflict, codes.AlreadyExists)
	ErrRandomnessUnverified = newError("RANDOMNESS_UNVERIFIED", "随机数回调未通过链上校验", ClassPrecondition, http.StatusBadRequest, codes.FailedPrecondition)
)

// 外部依赖错误
var (
	ErrPriceUnavailable    = newError("PRICE_UNAVAILABLE", "价格不可用, 请使用平台代币支付", ClassDependency, http.StatusServiceUnavailable, codes.Unavailable)
	ErrOracleInvalid       = newError("ORACLE_INVALID", "预言机读数无效", ClassDependency, http.StatusServiceUnavailable, codes.Unavailable)
	ErrSwapFailed          = newError("SWAP_FAILED", "兑换失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrFeeEstimationFailed = newError("FEE_ESTIMATION_FAILED", "跨链消息费用估算失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrMessageSendFailed   = newError("MESSAGE_SEND_FAILED", "跨链消息发送失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrProviderUnderfunded = newError("PROVIDER_UNDERFUNDED", "随机数服务余额不足", ClassDependency, http.StatusServiceUnavailable, codes.Unavailable)
	ErrRandomnessRequest   = newError("RANDOMNESS_REQUEST_FAILED", "随机数请求失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrTransferFailed      = newError("TRANSFER_FAILED", "转账失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrCredentialLookup    = newError("CREDENTIAL_CHECK_FAILED", "凭证查询失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
	ErrChainLookup         = newError("CHAIN_LOOKUP_FAILED", "链上查询失败", ClassDependency, http.StatusBadGateway, codes.Unavailable)
)

// ToGRPCError 转换为 gRPC 错误
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return status.Error(bizErr.GRPCCode, bizErr.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// As 提取错误类型
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Message
	}
	return err.Error()
}

// IsPrecondition 是否为前置条件错误
func IsPrecondition(err error) bool {
	var bizErr *Error
	return errors.As(err, &bizErr) && bizErr.Class == ClassPrecondition
}

// IsDependency 是否为外部依赖错误
func IsDependency(err error) bool {
	var bizErr *Error
	return errors.As(err, &bizErr) && bizErr.Class == ClassDependency
}
