package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"studio-gateway/internal/domain"
)

// State answers the ground-truth predicates with eth_call view queries
// against the studio proxy and the rewards distributor.
type State struct {
	client  *Client
	rewards string
}

func NewState(client *Client, rewardsAddress string) *State {
	return &State{client: client, rewards: rewardsAddress}
}

func (s *State) view(ctx context.Context, to string, data []byte) ([]byte, error) {
	params := map[string]any{
		"to":   to,
		"data": "0x" + hex.EncodeToString(data),
	}
	raw, err := s.client.call(ctx, "eth_call", params, "latest")
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "decode eth_call result", err)
	}
	ret, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "decode eth_call return data", err)
	}
	return ret, nil
}

func (s *State) viewBool(ctx context.Context, to string, data []byte) (bool, error) {
	ret, err := s.view(ctx, to, data)
	if err != nil {
		return false, err
	}
	return wordBool(ret, 0), nil
}

// viewExistence decodes a (bool, value) view return: the fact in word 0,
// the discovered identifier in word 1. decode renders the value word; it
// returns "" for a view that does not expose one.
func (s *State) viewExistence(ctx context.Context, to string, data []byte, decode func([]byte) string) (bool, string, error) {
	ret, err := s.view(ctx, to, data)
	if err != nil {
		return false, "", err
	}

	exists := wordBool(ret, 0)
	value := ""
	if exists && len(ret) >= 2*32 {
		value = decode(ret[32:64])
	}
	return exists, value, nil
}

// wordBool reads ABI word i as a bool; any non-zero byte means true.
func wordBool(ret []byte, i int) bool {
	if len(ret) < (i+1)*32 {
		return false
	}
	for _, b := range ret[i*32 : (i+1)*32] {
		if b != 0 {
			return true
		}
	}
	return false
}

// decodeAddressWord renders the low 20 bytes of an ABI word as a 0x address,
// "" for the zero address.
func decodeAddressWord(word []byte) string {
	addr := word[12:]
	zero := true
	for _, b := range addr {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return ""
	}
	return "0x" + hex.EncodeToString(addr)
}

func decodeHashWord(word []byte) string {
	return "0x" + hex.EncodeToString(word)
}

// WorkExists reports whether the data hash is recorded for the epoch, and
// which agent submitted it.
func (s *State) WorkExists(ctx context.Context, studio string, epoch uint64, dataHash string) (bool, string, error) {
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return false, "", err
	}
	data := selector("workExists(uint256,bytes32)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, dh...)
	return s.viewExistence(ctx, studio, data, decodeAddressWord)
}

// ScoreExists reports whether the validator's score vector is recorded for
// the epoch, and which signer submitted it.
func (s *State) ScoreExists(ctx context.Context, studio string, epoch uint64, validator, dataHash string) (bool, string, error) {
	validatorWord, err := encodeAddress(validator)
	if err != nil {
		return false, "", err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return false, "", err
	}
	data := selector("scoreExists(uint256,address,bytes32)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, validatorWord...)
	data = append(data, dh...)
	return s.viewExistence(ctx, studio, data, decodeAddressWord)
}

// CommitExists reports whether the validator has an open score commitment for
// the epoch, and the stored commitment hash.
func (s *State) CommitExists(ctx context.Context, studio string, epoch uint64, validator string) (bool, string, error) {
	validatorWord, err := encodeAddress(validator)
	if err != nil {
		return false, "", err
	}
	data := selector("commitExists(uint256,address)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, validatorWord...)
	return s.viewExistence(ctx, studio, data, decodeHashWord)
}

func (s *State) WorkRegistered(ctx context.Context, studio string, epoch uint64, agent, dataHash string) (bool, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return false, err
	}
	agentWord, err := encodeAddress(agent)
	if err != nil {
		return false, err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return false, err
	}
	data := selector("workRegistered(address,uint256,address,bytes32)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	data = append(data, agentWord...)
	data = append(data, dh...)
	return s.viewBool(ctx, s.rewards, data)
}

func (s *State) ValidatorRegistered(ctx context.Context, studio string, epoch uint64, validator string) (bool, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return false, err
	}
	validatorWord, err := encodeAddress(validator)
	if err != nil {
		return false, err
	}
	data := selector("validatorRegistered(address,uint256,address)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	data = append(data, validatorWord...)
	return s.viewBool(ctx, s.rewards, data)
}

func (s *State) EpochClosed(ctx context.Context, studio string, epoch uint64) (bool, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return false, err
	}
	data := selector("epochClosed(address,uint256)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	return s.viewBool(ctx, s.rewards, data)
}
