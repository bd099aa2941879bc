package device

import (
	"testing"

	"github.com/google/gousb"
)

func TestClassifyMapsLibusbErrors(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"pipe", gousb.ErrorPipe, ErrStalled},
		{"timeout", gousb.ErrorTimeout, ErrTimeout},
		{"no device", gousb.ErrorNoDevice, ErrShutdown},
		{"not found", gousb.ErrorNotFound, ErrShutdown},
		{"interrupted", gousb.ErrorInterrupted, ErrIncomplete},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classify(c.in); got != c.want {
				t.Errorf("classify(%v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if err := classify(nil); err != nil {
		t.Errorf("classify(nil) = %v, want nil", err)
	}
}

func TestTransferTypeFromAttributes(t *testing.T) {
	cases := []struct {
		attrs uint8
		want  TransferType
	}{
		{0x02, TransferBulk},
		{0x03, TransferInterrupt},
		{0x01, TransferIsochronous},
	}
	for _, c := range cases {
		if got := transferTypeFromAttributes(c.attrs); got != c.want {
			t.Errorf("transferTypeFromAttributes(0x%.2x) = %v, want %v", c.attrs, got, c.want)
		}
	}
}
