package kvstore

import "errors"

var (
	flagSet   = []byte("true")
	flagUnset = []byte("false")
)

// GetFlag reads a boolean flag. A missing flag reads as false.
func GetFlag(s Store, key string) (bool, error) {
	v, err := s.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil

	case err != nil:
		return false, err
	}

	return string(v) == string(flagSet), nil
}

// SetFlag writes a boolean flag.
func SetFlag(s Store, key string, value bool) error {
	if value {
		return s.Put(key, flagSet)
	}

	return s.Put(key, flagUnset)
}
