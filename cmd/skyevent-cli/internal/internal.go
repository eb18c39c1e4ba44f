package internal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("skyevent-cli")

// Catch handles errors for skyevent-cli commands packages
func Catch(err error, msgs ...string) {
	if err != nil {
		if len(msgs) > 0 {
			log.Fatalln(append(msgs, err.Error()))
		} else {
			log.Fatalln(err)
		}
	}
}

// ParseUUID parses a uuid
func ParseUUID(name, v string) uuid.UUID {
	id, err := uuid.Parse(v)
	Catch(err, fmt.Sprintf("failed to parse <%s>:", name))
	return id
}
