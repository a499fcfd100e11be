package game

import "fmt"

// Error is a rejection reported to the originating connection as an
// error{code,message} event. Rejections never corrupt table state.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrTableNotFound      = &Error{Code: "TableNotFound", Message: "table does not exist"}
	ErrTableFull          = &Error{Code: "TableFull", Message: "table is full"}
	ErrGameAlreadyStarted = &Error{Code: "GameAlreadyStarted", Message: "game has already started"}
	ErrInvalidPassword    = &Error{Code: "InvalidPassword", Message: "wrong table password"}
	ErrNameTaken          = &Error{Code: "NameTaken", Message: "display name already in use"}
	ErrNotHost            = &Error{Code: "NotHost", Message: "only the host may do that"}
	ErrNotEnoughPlayers   = &Error{Code: "NotEnoughPlayers", Message: "at least two players are required"}
	ErrPlayersNotReady    = &Error{Code: "PlayersNotReady", Message: "not all players are ready"}
	ErrInvalidAction      = &Error{Code: "InvalidAction", Message: "action not valid right now"}
)
