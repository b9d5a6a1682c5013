package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeSub is a controllable geth.Subscription.
type fakeSub struct {
	errCh chan error
	once  sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errCh: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errCh) }) }
func (s *fakeSub) Err() <-chan error { return s.errCh }

// fakeClient answers contract calls from a table keyed by address and
// 4-byte selector, and records log subscriptions.
type fakeClient struct {
	mu        sync.Mutex
	calls     map[common.Address]map[string][]byte
	callErr   error
	callCount int
	subs      []*fakeSub
	sinks     []chan<- types.Log
	subErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(map[common.Address]map[string][]byte)}
}

func (f *fakeClient) setReturn(addr common.Address, selector []byte, out []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls[addr] == nil {
		f.calls[addr] = make(map[string][]byte)
	}
	f.calls[addr][string(selector)] = out
}

func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	s := newFakeSub()
	f.subs = append(f.subs, s)
	f.sinks = append(f.sinks, ch)
	return s, nil
}

func (f *fakeClient) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.callErr != nil {
		return nil, f.callErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	out, ok := f.calls[*msg.To][string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) lastSink() chan<- types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

func (f *fakeClient) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeClient) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func mustPackOutput(method string, abiSet string, v ...interface{}) []byte {
	a := PairABI
	if abiSet == "erc20" {
		a = ERC20ABI
	}
	out, err := a.Methods[method].Outputs.Pack(v...)
	if err != nil {
		panic(err)
	}
	return out
}

func swapLog(pair, sender, to common.Address, a0in, a1in, a0out, a1out int64) types.Log {
	data, err := PairABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(a0in), big.NewInt(a1in), big.NewInt(a0out), big.NewInt(a1out))
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     pair,
		Topics:      []common.Hash{SwapEventID, common.BytesToHash(sender.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
		BlockNumber: 100,
	}
}
