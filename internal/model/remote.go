package model

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/flight"
)

// Flight action names served by a model process.
const (
	ActionEncode = "encode"
	ActionDecode = "decode"
)

type encodeRequest struct {
	Src []int `json:"src"`
}

type encodeResponse struct {
	BatchSize int       `json:"batch_size"`
	Length    int       `json:"length"`
	Dim       int       `json:"dim"`
	Handle    string    `json:"handle"`
	Data      []float32 `json:"data,omitempty"`
}

type decodeRequest struct {
	Handle  string `json:"handle"`
	History []int  `json:"history"`
}

// Scores travel as pointers so masked (-Inf) entries survive as null.
type decodeResponse struct {
	Logits []*float32 `json:"logits"`
}

// actionCaller is the part of flight.Client the remote model needs.
type actionCaller interface {
	DoAction(ctx context.Context, actionType string, body []byte) ([]byte, error)
}

// Remote reaches a model served over Arrow Flight actions. The encoder
// output stays on the server; only its handle and shape come back.
type Remote struct {
	client actionCaller
}

var (
	_ decoding.Encoder   = (*Remote)(nil)
	_ decoding.Predictor = (*Remote)(nil)
)

func NewRemote(client *flight.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Encode(ctx context.Context, src []int) (decoding.Encoding, error) {
	body, err := json.Marshal(encodeRequest{Src: src})
	if err != nil {
		return decoding.Encoding{}, fmt.Errorf("marshal encode request: %w", err)
	}
	out, err := r.client.DoAction(ctx, ActionEncode, body)
	if err != nil {
		return decoding.Encoding{}, err
	}
	var resp encodeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return decoding.Encoding{}, fmt.Errorf("decode encode response: %w", err)
	}
	return decoding.Encoding{
		BatchSize: resp.BatchSize,
		Length:    resp.Length,
		Dim:       resp.Dim,
		Handle:    resp.Handle,
		Data:      resp.Data,
	}, nil
}

func (r *Remote) Predict(ctx context.Context, history []int, enc decoding.Encoding) ([]float32, error) {
	body, err := json.Marshal(decodeRequest{Handle: enc.Handle, History: history})
	if err != nil {
		return nil, fmt.Errorf("marshal decode request: %w", err)
	}
	out, err := r.client.DoAction(ctx, ActionDecode, body)
	if err != nil {
		return nil, err
	}
	var resp decodeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode decode response: %w", err)
	}
	return unpackScores(resp.Logits), nil
}

func packScores(scores []float32) []*float32 {
	out := make([]*float32, len(scores))
	for i := range scores {
		if !isMasked(scores[i]) {
			v := scores[i]
			out[i] = &v
		}
	}
	return out
}

func unpackScores(in []*float32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = negInf
		} else {
			out[i] = *v
		}
	}
	return out
}
