package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Pure calldata encoders for the studio proxy and rewards distributor calls.
// One encoder per chain-writing step; nothing here touches the network.

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func selector(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

func encodeUint(v uint64) []byte {
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}

func encodeAddress(addr string) ([]byte, error) {
	raw, err := decodeHex(addr, 20)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	word := make([]byte, 32)
	copy(word[12:], raw)
	return word, nil
}

func encodeBytes32(h string) ([]byte, error) {
	raw, err := decodeHex(h, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid bytes32 %q: %w", h, err)
	}
	return raw, nil
}

func encodeUintArray(values []uint64) []byte {
	out := encodeUint(uint64(len(values)))
	for _, v := range values {
		out = append(out, encodeUint(v)...)
	}
	return out
}

func decodeHex(s string, wantLen int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(raw))
	}
	return raw, nil
}

// EncodeSubmitWork encodes submitWork(uint256,address,bytes32,bytes32,bytes32).
func EncodeSubmitWork(epoch uint64, agent, dataHash, threadRoot, evidenceRoot string) ([]byte, error) {
	agentWord, err := encodeAddress(agent)
	if err != nil {
		return nil, err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return nil, err
	}
	tr, err := encodeBytes32(threadRoot)
	if err != nil {
		return nil, err
	}
	er, err := encodeBytes32(evidenceRoot)
	if err != nil {
		return nil, err
	}

	data := selector("submitWork(uint256,address,bytes32,bytes32,bytes32)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, agentWord...)
	data = append(data, dh...)
	data = append(data, tr...)
	data = append(data, er...)
	return data, nil
}

// EncodeSubmitScoreVectorForWorker encodes
// submitScoreVectorForWorker(uint256,address,bytes32,uint256[]).
func EncodeSubmitScoreVectorForWorker(epoch uint64, worker, dataHash string, scores []uint64) ([]byte, error) {
	workerWord, err := encodeAddress(worker)
	if err != nil {
		return nil, err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return nil, err
	}

	data := selector("submitScoreVectorForWorker(uint256,address,bytes32,uint256[])")
	data = append(data, encodeUint(epoch)...)
	data = append(data, workerWord...)
	data = append(data, dh...)
	// Dynamic array: head holds the tail offset (4 static slots deep).
	data = append(data, encodeUint(4*32)...)
	data = append(data, encodeUintArray(scores)...)
	return data, nil
}

// EncodeCommitScoreVector encodes commitScoreVector(uint256,bytes32).
func EncodeCommitScoreVector(epoch uint64, commitHash string) ([]byte, error) {
	ch, err := encodeBytes32(commitHash)
	if err != nil {
		return nil, err
	}

	data := selector("commitScoreVector(uint256,bytes32)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, ch...)
	return data, nil
}

// EncodeRevealScoreVector encodes
// revealScoreVector(uint256,address,bytes32,uint256[],bytes32).
func EncodeRevealScoreVector(epoch uint64, worker, dataHash string, scores []uint64, salt string) ([]byte, error) {
	workerWord, err := encodeAddress(worker)
	if err != nil {
		return nil, err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return nil, err
	}
	saltWord, err := encodeBytes32(salt)
	if err != nil {
		return nil, err
	}

	data := selector("revealScoreVector(uint256,address,bytes32,uint256[],bytes32)")
	data = append(data, encodeUint(epoch)...)
	data = append(data, workerWord...)
	data = append(data, dh...)
	data = append(data, encodeUint(5*32)...)
	data = append(data, saltWord...)
	data = append(data, encodeUintArray(scores)...)
	return data, nil
}

// EncodeRegisterWork encodes registerWork(address,uint256,address,bytes32) on
// the rewards distributor.
func EncodeRegisterWork(studio string, epoch uint64, agent, dataHash string) ([]byte, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return nil, err
	}
	agentWord, err := encodeAddress(agent)
	if err != nil {
		return nil, err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return nil, err
	}

	data := selector("registerWork(address,uint256,address,bytes32)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	data = append(data, agentWord...)
	data = append(data, dh...)
	return data, nil
}

// EncodeRegisterValidator encodes registerValidator(address,uint256,address).
func EncodeRegisterValidator(studio string, epoch uint64, validator string) ([]byte, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return nil, err
	}
	validatorWord, err := encodeAddress(validator)
	if err != nil {
		return nil, err
	}

	data := selector("registerValidator(address,uint256,address)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	data = append(data, validatorWord...)
	return data, nil
}

// EncodeCloseEpoch encodes closeEpoch(address,uint256).
func EncodeCloseEpoch(studio string, epoch uint64) ([]byte, error) {
	studioWord, err := encodeAddress(studio)
	if err != nil {
		return nil, err
	}

	data := selector("closeEpoch(address,uint256)")
	data = append(data, studioWord...)
	data = append(data, encodeUint(epoch)...)
	return data, nil
}

// ScoreCommitHash derives the commit-reveal commitment:
// keccak256(abi.encode(epoch, worker, dataHash, scores, salt)). The preimage
// is the argument block of the reveal call, so the contract verifies a reveal
// by hashing the calldata it just received.
func ScoreCommitHash(epoch uint64, worker, dataHash string, scores []uint64, salt string) (string, error) {
	workerWord, err := encodeAddress(worker)
	if err != nil {
		return "", err
	}
	dh, err := encodeBytes32(dataHash)
	if err != nil {
		return "", err
	}
	saltWord, err := encodeBytes32(salt)
	if err != nil {
		return "", err
	}

	// Head: four static words plus the offset of the dynamic scores array;
	// tail: the array's length and elements.
	buf := encodeUint(epoch)
	buf = append(buf, workerWord...)
	buf = append(buf, dh...)
	buf = append(buf, encodeUint(5*32)...)
	buf = append(buf, saltWord...)
	buf = append(buf, encodeUintArray(scores)...)

	return "0x" + hex.EncodeToString(keccak256(buf)), nil
}
