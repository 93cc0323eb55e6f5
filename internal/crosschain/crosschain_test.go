package crosschain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainChain      uint64 = 1
	satelliteChain uint64 = 137
	mainAddr              = "0x00000000000000000000000000000000000000a1"
	satelliteAddr         = "0x00000000000000000000000000000000000000b2"
)

type fakePublisher struct {
	topic string
	key   string
	value []byte
	err   error
}

func (f *fakePublisher) Send(ctx context.Context, topic, key string, value []byte) error {
	f.topic, f.key, f.value = topic, key, value
	return f.err
}

type fakePeers map[uint64]*model.PeerChain

func (f fakePeers) GetPeer(ctx context.Context, chainID uint64) (*model.PeerChain, error) {
	if p, ok := f[chainID]; ok {
		return p, nil
	}
	return nil, repository.ErrPeerNotFound
}

func TestCodec_EntryRequest(t *testing.T) {
	in := &EntryRequest{RoundID: 7, Player: common.HexToAddress("0xabc"), Fee: big.NewInt(100)}
	payload, err := EncodeEntryRequest(in)
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, MessageEntryRequest, msg.Type)
	require.NotNil(t, msg.EntryRequest)
	assert.Equal(t, uint64(7), msg.EntryRequest.RoundID)
	assert.Equal(t, in.Player, msg.EntryRequest.Player)
	assert.Equal(t, int64(100), msg.EntryRequest.Fee.Int64())
	assert.Nil(t, msg.EntryResponse)
}

func TestCodec_WinnersNotification(t *testing.T) {
	in := &WinnersNotification{
		RoundID:       3,
		Winners:       []common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2")},
		TotalPool:     big.NewInt(400),
		ChainIDs:      []uint64{mainChain, satelliteChain},
		Contributions: []*big.Int{big.NewInt(300), big.NewInt(100)},
	}
	payload, err := EncodeWinnersNotification(in)
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	n := msg.WinnersNotification
	require.NotNil(t, n)
	assert.Equal(t, in.Winners, n.Winners)
	assert.Equal(t, int64(100), n.Contribution(satelliteChain).Int64())
	assert.Equal(t, int64(0), n.Contribution(42).Int64())

	in.Contributions = in.Contributions[:1]
	_, err = EncodeWinnersNotification(in)
	assert.Error(t, err)
}

func TestCodec_ResponseAndSync(t *testing.T) {
	payload, err := EncodeEntryResponse(&EntryResponse{RoundID: 9, Player: common.HexToAddress("0xabc"), Reason: "ROUND_FULL"})
	require.NoError(t, err)
	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.False(t, msg.EntryResponse.Accepted)
	assert.Equal(t, "ROUND_FULL", msg.EntryResponse.Reason)

	payload, err = EncodeRoundSync(&RoundSync{RoundID: 12})
	require.NoError(t, err)
	msg, err = Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), msg.RoundSync.RoundID)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	assert.Error(t, err)

	payload, err := wrap(MessageType(99), []byte{})
	require.NoError(t, err)
	_, err = Decode(payload)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func newSatelliteTransport(pub Publisher) *Transport {
	peers := fakePeers{mainChain: {ChainID: mainChain, Address: mainAddr, Enabled: true}}
	return NewTransport(pub, peers, TransportConfig{
		ChainID:    satelliteChain,
		Sender:     satelliteAddr,
		BaseFee:    big.NewInt(1_000),
		PerByteFee: big.NewInt(10),
	})
}

func TestTransport_EstimateAndSend(t *testing.T) {
	pub := &fakePublisher{}
	tr := newSatelliteTransport(pub)
	ctx := context.Background()

	payload, err := EncodeRoundSync(&RoundSync{RoundID: 1})
	require.NoError(t, err)

	fee, err := tr.EstimateFee(ctx, mainChain, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000+10*len(payload)), fee.Int64())

	_, err = tr.EstimateFee(ctx, 999, payload)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, err = tr.Send(ctx, mainChain, payload, big.NewInt(1))
	assert.ErrorIs(t, err, ErrFeeTooLow)

	id, err := tr.Send(ctx, mainChain, payload, fee)
	require.NoError(t, err)
	assert.Equal(t, "crosschain-1", pub.topic)
	assert.Equal(t, id, pub.key)

	env, err := DecodeEnvelope(pub.value)
	require.NoError(t, err)
	assert.Equal(t, satelliteChain, env.SourceChainID)
	assert.Equal(t, satelliteAddr, env.Sender)
	assert.Equal(t, payload, env.Payload)
}

func TestTransport_SendPublishError(t *testing.T) {
	tr := newSatelliteTransport(&fakePublisher{err: errors.New("broker down")})
	payload, err := EncodeRoundSync(&RoundSync{RoundID: 1})
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), mainChain, payload, big.NewInt(1_000_000))
	assert.Error(t, err)
}

func TestTransport_Verify(t *testing.T) {
	tr := newSatelliteTransport(&fakePublisher{})
	ctx := context.Background()

	tests := []struct {
		name string
		env  Envelope
		want error
	}{
		{"trusted", Envelope{SourceChainID: mainChain, DestChainID: satelliteChain, Sender: "0x00000000000000000000000000000000000000A1"}, nil},
		{"spoofed sender", Envelope{SourceChainID: mainChain, DestChainID: satelliteChain, Sender: "0xdead"}, ErrUntrustedSender},
		{"unknown source", Envelope{SourceChainID: 5, DestChainID: satelliteChain, Sender: mainAddr}, ErrUnknownPeer},
		{"wrong destination", Envelope{SourceChainID: mainChain, DestChainID: 8, Sender: mainAddr}, ErrWrongDestination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Verify(ctx, &tt.env)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeEnvelope_Incomplete(t *testing.T) {
	data, err := json.Marshal(Envelope{SourceChainID: 1})
	require.NoError(t, err)
	_, err = DecodeEnvelope(data)
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
}
