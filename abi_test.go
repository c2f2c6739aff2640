package sapi

import (
	"reflect"
	"testing"
)

func TestEntry_TableComplete(t *testing.T) {
	api := Entry()
	if api.Version != APIVersion {
		t.Errorf("Version = %d, want %d", api.Version, APIVersion)
	}
	if api.Engine.Engine == "" {
		t.Error("Engine descriptor is empty")
	}

	// Every function entry must be populated; a nil slot would mean the
	// table drifted out of sync with the API surface.
	v := reflect.ValueOf(*api)
	tp := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).Kind() == reflect.Func && v.Field(i).IsNil() {
			t.Errorf("API.%s is nil", tp.Field(i).Name)
		}
	}
}

func TestEntry_Stable(t *testing.T) {
	if Entry() != Entry() {
		t.Error("Entry returned different tables")
	}
}
