package testutil

import "github.com/renproject/kv"

// FaultyTable is a kv.Table whose operations always fail with the configured
// errors. It is used to test how storage failures are reported.
type FaultyTable struct {
	GetErr    error
	InsertErr error
	DeleteErr error
	SizeErr   error
}

func NewFaultyTable(getErr, insertErr, deleteErr, sizeErr error) *FaultyTable {
	return &FaultyTable{
		GetErr:    getErr,
		InsertErr: insertErr,
		DeleteErr: deleteErr,
		SizeErr:   sizeErr,
	}
}

func (table *FaultyTable) Get(key string, value interface{}) error {
	return table.GetErr
}

func (table *FaultyTable) Insert(key string, value interface{}) error {
	return table.InsertErr
}

func (table *FaultyTable) Delete(key string) error {
	return table.DeleteErr
}

func (table *FaultyTable) Iterator() (kv.Iterator, error) {
	return nil, table.GetErr
}

func (table *FaultyTable) Size() (int, error) {
	return 0, table.SizeErr
}
