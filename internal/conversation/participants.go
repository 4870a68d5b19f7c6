package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/susu3304/splitbot/internal/paylink"
	"github.com/susu3304/splitbot/internal/split"
)

var errParticipantFormat = &inputError{msg: "I need the number of people followed by their wallet addresses"}

// inputError is a parse failure whose message is safe to show the user.
type inputError struct {
	msg string
	err error
}

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Unwrap() error { return e.err }

// participantInfo is a parsed "<count> <addr> [<addr> ...]" reply.
type participantInfo struct {
	count   int
	wallets []string
}

// parseParticipants reads the participant reply. A single address is used
// for every participant. Addresses come back in checksummed form.
func parseParticipants(text string, maxParticipants int) (participantInfo, error) {
	fields := strings.Fields(strings.NewReplacer(",", " ", ";", " ").Replace(text))
	if len(fields) < 2 {
		return participantInfo{}, errParticipantFormat
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return participantInfo{}, errParticipantFormat
	}
	if count < 1 || count > maxParticipants {
		return participantInfo{}, &inputError{
			msg: fmt.Sprintf("the number of people must be between 1 and %d", maxParticipants),
			err: split.ErrInvalidParticipantCount,
		}
	}

	addrs := fields[1:]
	if len(addrs) != 1 && len(addrs) != count {
		return participantInfo{}, &inputError{msg: fmt.Sprintf("I expected %d wallet addresses (or one shared address) but got %d", count, len(addrs))}
	}
	checked := make([]string, len(addrs))
	for i, a := range addrs {
		sum, err := paylink.Checksum(a)
		if err != nil {
			return participantInfo{}, &inputError{msg: fmt.Sprintf("address %d (%s) is not a valid wallet address", i+1, a), err: err}
		}
		checked[i] = sum
	}

	wallets := make([]string, count)
	for i := range wallets {
		if len(checked) == 1 {
			wallets[i] = checked[0]
		} else {
			wallets[i] = checked[i]
		}
	}
	return participantInfo{count: count, wallets: wallets}, nil
}
