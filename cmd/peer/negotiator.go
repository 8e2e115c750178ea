package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rendezvous/pkg/client"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// negotiator runs offer/answer and candidate exchange over the relay for one
// peer connection per remote peer.
type negotiator struct {
	client *client.Client
	config webrtc.Configuration
	// api builds peer connections; nil uses the pion defaults.
	api    *webrtc.API
	logger *zap.SugaredLogger

	// OnMessage handles an incoming data channel message; a non-empty return
	// value is sent back.
	OnMessage func(from, text string) string

	mu    sync.Mutex
	peers map[string]*remotePeer
}

type remotePeer struct {
	id      string
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
	remote  bool
}

func newNegotiator(c *client.Client, stun []string, logger *zap.SugaredLogger) *negotiator {
	var config webrtc.Configuration
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}
	return &negotiator{
		client: c,
		config: config,
		logger: logger,
		peers:  make(map[string]*remotePeer),
	}
}

func (n *negotiator) peer(id string) (*remotePeer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.peers[id]; ok {
		return p, nil
	}

	newPeerConnection := webrtc.NewPeerConnection
	if n.api != nil {
		newPeerConnection = n.api.NewPeerConnection
	}
	pc, err := newPeerConnection(n.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	p := &remotePeer{id: id, pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := n.client.ICECandidate(id, candidate.ToJSON()); err != nil {
			n.logger.Warnw("failed to send candidate", "to", id, "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Infow("peer connection state changed", "peer", id, "state", state.String())
		if err := n.client.ConnectionStatus(id, state.String()); err != nil {
			n.logger.Debugw("failed to report connection status", "error", err)
		}
	})

	n.peers[id] = p
	return p, nil
}

// Run answers offers and serves data channels until ctx is done.
func (n *negotiator) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-n.client.Events():
			if !ok {
				return client.ErrClosed
			}
			if err := n.handle(ev); err != nil {
				n.logger.Warnw("failed to handle relay event", "type", ev.Type, "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Call opens a data channel to target, sends message and returns the first reply.
func (n *negotiator) Call(ctx context.Context, target, message string) (string, error) {
	p, err := n.peer(target)
	if err != nil {
		return "", err
	}

	dc, err := p.pc.CreateDataChannel("rendezvous", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create data channel: %w", err)
	}

	replies := make(chan string, 1)
	dc.OnOpen(func() {
		n.logger.Infow("data channel open", "peer", target)
		if err := dc.SendText(message); err != nil {
			n.logger.Warnw("failed to send message", "error", err)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case replies <- string(msg.Data):
		default:
		}
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	if err := n.client.Offer(target, offer); err != nil {
		return "", fmt.Errorf("failed to send offer: %w", err)
	}

	for {
		select {
		case reply := <-replies:
			return reply, nil
		case ev, ok := <-n.client.Events():
			if !ok {
				return "", client.ErrClosed
			}
			if err := n.handle(ev); err != nil {
				n.logger.Warnw("failed to handle relay event", "type", ev.Type, "error", err)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (n *negotiator) handle(ev client.Event) error {
	switch ev.Type {
	case "offer":
		sig, err := client.DecodeSignal(ev)
		if err != nil {
			return err
		}
		return n.answer(sig)

	case "answer":
		sig, err := client.DecodeSignal(ev)
		if err != nil {
			return err
		}
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Body, &desc); err != nil {
			return fmt.Errorf("invalid answer: %w", err)
		}
		p, err := n.peer(sig.From)
		if err != nil {
			return err
		}
		return n.setRemote(p, desc)

	case "ice-candidate":
		sig, err := client.DecodeSignal(ev)
		if err != nil {
			return err
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Body, &candidate); err != nil {
			return fmt.Errorf("invalid candidate: %w", err)
		}
		p, err := n.peer(sig.From)
		if err != nil {
			return err
		}
		return n.addCandidate(p, candidate)

	case "peer-connection-status":
		status, err := client.DecodePeerStatus(ev)
		if err != nil {
			return err
		}
		n.logger.Infow("peer reported status", "peer", status.From, "username", status.Username, "status", status.Status)

	case "user-disconnected":
		var id string
		if err := json.Unmarshal(ev.Payload, &id); err == nil {
			n.drop(id)
		}
	}
	return nil
}

func (n *negotiator) answer(sig client.Signal) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig.Body, &desc); err != nil {
		return fmt.Errorf("invalid offer: %w", err)
	}

	p, err := n.peer(sig.From)
	if err != nil {
		return err
	}
	from := sig.Username
	if from == "" {
		from = sig.From
	}

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if n.OnMessage == nil {
				return
			}
			if reply := n.OnMessage(from, string(msg.Data)); reply != "" {
				if err := dc.SendText(reply); err != nil {
					n.logger.Warnw("failed to reply", "error", err)
				}
			}
		})
	})

	if err := n.setRemote(p, desc); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return n.client.Answer(sig.From, answer)
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (n *negotiator) setRemote(p *remotePeer, desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	n.mu.Lock()
	p.remote = true
	pending := p.pending
	p.pending = nil
	n.mu.Unlock()

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			n.logger.Warnw("failed to add buffered candidate", "peer", p.id, "error", err)
		}
	}
	return nil
}

func (n *negotiator) addCandidate(p *remotePeer, candidate webrtc.ICECandidateInit) error {
	n.mu.Lock()
	if !p.remote {
		p.pending = append(p.pending, candidate)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

func (n *negotiator) drop(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()

	if ok {
		p.pc.Close()
		n.logger.Infow("peer left", "peer", id)
	}
}

func (n *negotiator) Close() {
	n.mu.Lock()
	peers := n.peers
	n.peers = make(map[string]*remotePeer)
	n.mu.Unlock()

	for _, p := range peers {
		p.pc.Close()
	}
}
