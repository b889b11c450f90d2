package soundfile

import "testing"

type fakeAPI struct{}

func (fakeAPI) Open(path string, mode Mode) (File, error) { return nil, nil }

func TestRegistryLookupKnownMimeType(t *testing.T) {
	r := NewRegistry()
	r.Register("audio/wav", fakeAPI{})

	api, err := r.Lookup("audio/wav")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if api == nil {
		t.Fatal("expected non-nil API")
	}
}

func TestRegistryLookupUnknownMimeType(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("audio/flac"); err != ErrNoDecoderForMimeType {
		t.Fatalf("want ErrNoDecoderForMimeType, got %v", err)
	}
}

func TestHostFuncReturnsNilForUnknownType(t *testing.T) {
	r := NewRegistry()
	fn := r.HostFunc()
	if got := fn("audio/flac"); got != nil {
		t.Fatalf("want nil, got %v", got)
	}
}

func TestFileErrorMessages(t *testing.T) {
	if ErrInvalidFile.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
