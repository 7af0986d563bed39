package compose

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex(%q): %v", s, err)
	}
	return b
}

func TestEncode_Vectors(t *testing.T) {
	for _, v := range Vectors {
		t.Run(v.Name, func(t *testing.T) {
			got, err := Encode(v.Message)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if want := mustHex(t, v.Hex); !bytes.Equal(got, want) {
				t.Errorf("Encode = %x, want %x", got, want)
			}
			if len(got) != MessageSize {
				t.Errorf("len = %d, want %d", len(got), MessageSize)
			}
		})
	}
}

func TestDecode_Vectors(t *testing.T) {
	for _, v := range Vectors {
		t.Run(v.Name, func(t *testing.T) {
			got, err := Decode(mustHex(t, v.Hex))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != v.Message {
				t.Errorf("Decode = %+v, want %+v", got, v.Message)
			}

			viaABI, err := DecodeABI(mustHex(t, v.Hex))
			if err != nil {
				t.Fatalf("DecodeABI: %v", err)
			}
			if viaABI != got {
				t.Errorf("DecodeABI = %+v, Decode = %+v", viaABI, got)
			}
		})
	}
}

func TestDecode_BadVectors(t *testing.T) {
	for _, v := range BadVectors {
		t.Run(v.Name, func(t *testing.T) {
			_, err := Decode(mustHex(t, v.Hex))
			if !errors.Is(err, v.Err) {
				t.Errorf("Decode error = %v, want %v", err, v.Err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []Message{
		{Sender: common.HexToAddress("0x00000000000000000000000000000000000000aa"), MarketID: 1, Outcome: OutcomeNo},
		{Sender: common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"), MarketID: 1 << 40, Outcome: OutcomeYes},
	}
	for _, msg := range tests {
		b, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", msg, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != msg {
			t.Errorf("round trip = %+v, want %+v", got, msg)
		}
	}
}

func TestEncode_OutcomeNotValidated(t *testing.T) {
	b, err := Encode(Message{MarketID: 3, Outcome: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(b); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("Decode error = %v, want ErrInvalidOutcome", err)
	}
}

func TestSenderBytes(t *testing.T) {
	msg := Vectors[0].Message
	got := msg.SenderBytes()
	if !bytes.Equal(got[:], msg.Sender.Bytes()) {
		t.Errorf("SenderBytes = %x, want %x", got, msg.Sender.Bytes())
	}
}

func TestParseHex(t *testing.T) {
	if _, err := ParseHex("0xzz"); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("ParseHex error = %v, want ErrMalformedPayload", err)
	}
	b, err := ParseHex("  0X0a0b ")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if !bytes.Equal(b, []byte{0x0a, 0x0b}) {
		t.Errorf("ParseHex = %x", b)
	}
}

func TestEncodeHex(t *testing.T) {
	got, err := EncodeHex(Vectors[0].Message)
	if err != nil {
		t.Fatal(err)
	}
	if got != Vectors[0].Hex {
		t.Errorf("EncodeHex = %s, want %s", got, Vectors[0].Hex)
	}
}
