package mirror

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// comparable
// ulids are ordered by create time, so session ids sort by connect time in logs
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	u, err := ulid.ParseStrict(strings.ToUpper(idStr))
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

func (self Id) LessThan(b Id) bool {
	return ulid.ULID(self).Compare(ulid.ULID(b)) < 0
}

// lower case so it can be used directly as a dom id
func (self Id) String() string {
	return strings.ToLower(ulid.ULID(self).String())
}

func (self Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + self.String() + `"`), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return errors.New("Id must be a json string")
	}
	id, err := ParseId(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = id
	return nil
}
