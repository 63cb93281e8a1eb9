package evaluation

import "errors"

var ErrInvalidReport = errors.New("invalid evaluation report")
