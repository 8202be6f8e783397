package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
)

const (
	topicEvents  = "hyperpredict/events/1"
	protocolSync = protocol.ID("/hyperpredict/sync/1.0.0")

	maxSyncLimit = 1000
)

// Journal serves past events to peers catching up
type Journal interface {
	LoadEvents(marketID string, after uint64, limit int) ([]predict.Event, error)
}

// EventHandler receives batches gossiped by other nodes
type EventHandler func(ctx context.Context, from peer.ID, events []predict.Event)

// Libp2pNet gossips committed engine events and answers journal sync requests
type Libp2pNet struct {
	h       host.Host
	ps      *pubsub.PubSub
	log     *zap.SugaredLogger
	journal Journal

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	muH     sync.RWMutex
	handler EventHandler
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Journal    Journal // optional; enables the sync protocol
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	n := &Libp2pNet{h: h, ps: ps, log: cfg.Logger, journal: cfg.Journal}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if n.topic, err = ps.Join(topicEvents); err != nil {
		h.Close()
		return nil, err
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	if cfg.Journal != nil {
		h.SetStreamHandler(protocolSync, n.handleSyncStream)
	}

	go n.handleEvents(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable multiaddrs including the peer id, usable as Bootstrap entries
func (n *Libp2pNet) Addrs() []string {
	out := make([]string, 0, len(n.h.Addrs()))
	for _, a := range n.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.h.ID()))
	}
	return out
}

func (n *Libp2pNet) Close() error {
	n.sub.Cancel()
	return n.h.Close()
}

// OnEvents installs the handler for batches gossiped by other nodes
func (n *Libp2pNet) OnEvents(h EventHandler) {
	n.muH.Lock()
	n.handler = h
	n.muH.Unlock()
}

// HandleEvents publishes a committed batch to the events topic
func (n *Libp2pNet) HandleEvents(ctx context.Context, events []predict.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := encode(EventBatch{Events: events})
	if err != nil {
		return err
	}
	return n.topic.Publish(ctx, data)
}

var _ predict.EventSink = (*Libp2pNet)(nil)

// inbound

func (n *Libp2pNet) handleEvents(ctx context.Context) {
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.h.ID() {
			continue // own publish
		}
		var batch EventBatch
		if err := decode(msg.Data, &batch); err != nil {
			n.log.Debugw("gossip_decode_failed", "from", msg.GetFrom().String(), "err", err)
			continue
		}

		n.muH.RLock()
		h := n.handler
		n.muH.RUnlock()
		if h != nil {
			h(ctx, msg.GetFrom(), batch.Events)
		}
	}
}

// RequestEvents fetches journal entries of one market from a peer
func (n *Libp2pNet) RequestEvents(ctx context.Context, to peer.ID, marketID string, after uint64, limit int) ([]predict.Event, error) {
	stream, err := n.h.NewStream(ctx, to, protocolSync)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	} else {
		stream.SetDeadline(time.Now().Add(10 * time.Second))
	}

	data, err := encode(SyncRequest{MarketID: marketID, After: after, Limit: limit})
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(data); err != nil {
		return nil, err
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, err
	}

	var resp SyncResponse
	if err := readJSON(stream, maxSyncBytes, &resp); err != nil {
		return nil, fmt.Errorf("failed to read sync response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Events, nil
}

// handleSyncStream serves one SyncRequest from the local journal
func (n *Libp2pNet) handleSyncStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(10 * time.Second))

	var req SyncRequest
	if err := readJSON(s, 4096, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > maxSyncLimit {
		req.Limit = maxSyncLimit
	}

	var resp SyncResponse
	events, err := n.journal.LoadEvents(req.MarketID, req.After, req.Limit)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Events = events
	}
	data, err := encode(resp)
	if err != nil {
		return
	}
	if _, err := s.Write(data); err != nil {
		n.log.Debugw("sync_write_failed", "peer", s.Conn().RemotePeer().String(), "err", err)
	}
}
