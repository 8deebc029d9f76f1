package ir

import "testing"

func TestSVarintRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 127, -128, 1000, -1000,
		1 << 20, -(1 << 20), 1<<62 - 1, -(1 << 62)}
	for _, v := range values {
		enc := EncodeSVarint(nil, v)
		got, next, err := DecodeSVarint(enc, 0)
		if err != nil {
			t.Fatalf("DecodeSVarint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d got %d", v, got)
		}
		if next != len(enc) {
			t.Errorf("round trip %d consumed %d of %d bytes", v, next, len(enc))
		}
	}
}

func TestSVarintSmallValuesAreOneByte(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 10, -10, 63, -64} {
		enc := EncodeSVarint(nil, v)
		if len(enc) != 1 {
			t.Errorf("EncodeSVarint(%d) = %d bytes, want 1", v, len(enc))
		}
	}
}

func TestSVarintTruncated(t *testing.T) {
	if _, _, err := DecodeSVarint([]byte{0x80}, 0); err != ErrTruncated {
		t.Errorf("got err=%v, want ErrTruncated", err)
	}
	if _, _, err := DecodeSVarint(nil, 0); err != ErrTruncated {
		t.Errorf("got err=%v, want ErrTruncated", err)
	}
}

func TestSVarintSequence(t *testing.T) {
	var buf []byte
	buf = EncodeSVarint(buf, 5)
	buf = EncodeSVarint(buf, -5)
	buf = EncodeSVarint(buf, 1000)

	v1, p1, err := DecodeSVarint(buf, 0)
	if err != nil || v1 != 5 {
		t.Fatalf("first: %d %v", v1, err)
	}
	v2, p2, err := DecodeSVarint(buf, p1)
	if err != nil || v2 != -5 {
		t.Fatalf("second: %d %v", v2, err)
	}
	v3, p3, err := DecodeSVarint(buf, p2)
	if err != nil || v3 != 1000 {
		t.Fatalf("third: %d %v", v3, err)
	}
	if p3 != len(buf) {
		t.Errorf("final pos %d != len %d", p3, len(buf))
	}
}
