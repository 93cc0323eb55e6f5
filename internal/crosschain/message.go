// Package crosschain 跨链消息编解码与传输
//
// 消息以 ABI 编码 (uint8 type, bytes body) 承载, 与链上合约的消息格式一致:
//
//	ENTRY_REQUEST(1)         卫星链 -> 主链  (round_id, player, fee)
//	ENTRY_RESPONSE(2)        主链 -> 卫星链  (round_id, player, accepted, reason)
//	WINNERS_NOTIFICATION(3)  主链 -> 卫星链  (round_id, winners, total_pool, chain_ids, contributions)
//	ROUND_SYNC(4)            主链 -> 卫星链  (round_id)
package crosschain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MessageType 跨链消息类型
type MessageType uint8

const (
	MessageEntryRequest        MessageType = 1
	MessageEntryResponse       MessageType = 2
	MessageWinnersNotification MessageType = 3
	MessageRoundSync           MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageEntryRequest:
		return "ENTRY_REQUEST"
	case MessageEntryResponse:
		return "ENTRY_RESPONSE"
	case MessageWinnersNotification:
		return "WINNERS_NOTIFICATION"
	case MessageRoundSync:
		return "ROUND_SYNC"
	default:
		return "UNKNOWN"
	}
}

var ErrUnknownMessageType = errors.New("unknown cross-chain message type")

// EntryRequest 卫星链参与请求
type EntryRequest struct {
	RoundID uint64
	Player  common.Address
	Fee     *big.Int
}

// EntryResponse 主链校验结果
type EntryResponse struct {
	RoundID  uint64
	Player   common.Address
	Accepted bool
	Reason   string
}

// WinnersNotification 开奖结果与各链贡献
type WinnersNotification struct {
	RoundID       uint64
	Winners       []common.Address
	TotalPool     *big.Int
	ChainIDs      []uint64
	Contributions []*big.Int
}

// Contribution 指定链的贡献, 未记录时返回 0
func (n *WinnersNotification) Contribution(chainID uint64) *big.Int {
	for i, id := range n.ChainIDs {
		if id == chainID && i < len(n.Contributions) {
			return new(big.Int).Set(n.Contributions[i])
		}
	}
	return new(big.Int)
}

// RoundSync 主链轮次推进
type RoundSync struct {
	RoundID uint64
}

// Message 解码后的跨链消息, 按 Type 只有一个字段非空
type Message struct {
	Type                MessageType
	EntryRequest        *EntryRequest
	EntryResponse       *EntryResponse
	WinnersNotification *WinnersNotification
	RoundSync           *RoundSync
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	envelopeArgs = abi.Arguments{{Type: mustType("uint8")}, {Type: mustType("bytes")}}

	entryRequestArgs = abi.Arguments{
		{Name: "roundId", Type: mustType("uint64")},
		{Name: "player", Type: mustType("address")},
		{Name: "fee", Type: mustType("uint256")},
	}
	entryResponseArgs = abi.Arguments{
		{Name: "roundId", Type: mustType("uint64")},
		{Name: "player", Type: mustType("address")},
		{Name: "accepted", Type: mustType("bool")},
		{Name: "reason", Type: mustType("string")},
	}
	winnersArgs = abi.Arguments{
		{Name: "roundId", Type: mustType("uint64")},
		{Name: "winners", Type: mustType("address[]")},
		{Name: "totalPool", Type: mustType("uint256")},
		{Name: "chainIds", Type: mustType("uint64[]")},
		{Name: "contributions", Type: mustType("uint256[]")},
	}
	roundSyncArgs = abi.Arguments{{Name: "roundId", Type: mustType("uint64")}}
)

func wrap(t MessageType, body []byte) ([]byte, error) {
	return envelopeArgs.Pack(uint8(t), body)
}

// EncodeEntryRequest 编码参与请求
func EncodeEntryRequest(m *EntryRequest) ([]byte, error) {
	body, err := entryRequestArgs.Pack(m.RoundID, m.Player, nonNil(m.Fee))
	if err != nil {
		return nil, err
	}
	return wrap(MessageEntryRequest, body)
}

// EncodeEntryResponse 编码校验结果
func EncodeEntryResponse(m *EntryResponse) ([]byte, error) {
	body, err := entryResponseArgs.Pack(m.RoundID, m.Player, m.Accepted, m.Reason)
	if err != nil {
		return nil, err
	}
	return wrap(MessageEntryResponse, body)
}

// EncodeWinnersNotification 编码开奖通知
func EncodeWinnersNotification(m *WinnersNotification) ([]byte, error) {
	if len(m.ChainIDs) != len(m.Contributions) {
		return nil, fmt.Errorf("chain ids (%d) and contributions (%d) length mismatch", len(m.ChainIDs), len(m.Contributions))
	}
	winners := m.Winners
	if winners == nil {
		winners = []common.Address{}
	}
	chainIDs := m.ChainIDs
	if chainIDs == nil {
		chainIDs = []uint64{}
	}
	contributions := make([]*big.Int, len(m.Contributions))
	for i, c := range m.Contributions {
		contributions[i] = nonNil(c)
	}
	body, err := winnersArgs.Pack(m.RoundID, winners, nonNil(m.TotalPool), chainIDs, contributions)
	if err != nil {
		return nil, err
	}
	return wrap(MessageWinnersNotification, body)
}

// EncodeRoundSync 编码轮次同步
func EncodeRoundSync(m *RoundSync) ([]byte, error) {
	body, err := roundSyncArgs.Pack(m.RoundID)
	if err != nil {
		return nil, err
	}
	return wrap(MessageRoundSync, body)
}

// Decode 解码跨链消息
func Decode(payload []byte) (*Message, error) {
	outer, err := envelopeArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	t := MessageType(outer[0].(uint8))
	body := outer[1].([]byte)

	msg := &Message{Type: t}
	switch t {
	case MessageEntryRequest:
		v, err := entryRequestArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		msg.EntryRequest = &EntryRequest{
			RoundID: v[0].(uint64),
			Player:  v[1].(common.Address),
			Fee:     v[2].(*big.Int),
		}
	case MessageEntryResponse:
		v, err := entryResponseArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		msg.EntryResponse = &EntryResponse{
			RoundID:  v[0].(uint64),
			Player:   v[1].(common.Address),
			Accepted: v[2].(bool),
			Reason:   v[3].(string),
		}
	case MessageWinnersNotification:
		v, err := winnersArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		msg.WinnersNotification = &WinnersNotification{
			RoundID:       v[0].(uint64),
			Winners:       v[1].([]common.Address),
			TotalPool:     v[2].(*big.Int),
			ChainIDs:      v[3].([]uint64),
			Contributions: v[4].([]*big.Int),
		}
	case MessageRoundSync:
		v, err := roundSyncArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		msg.RoundSync = &RoundSync{RoundID: v[0].(uint64)}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, t)
	}
	return msg, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
