package storage

import "errors"

var (
	ErrGet           = errors.New("unable to retrieve data from entry store")
	ErrApply         = errors.New("unable to apply mutations to entry store")
	ErrInstall       = errors.New("unable to install transferred entries in entry store")
	ErrRemoveVersion = errors.New("unable to remove entry version from entry store")
	ErrSnapshot      = errors.New("unable to snapshot entry store")
)
