package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey_StringIsUnambiguous(t *testing.T) {
	pairs := [][2]SessionKey{
		{{UserID: "u:v", StoreID: "s"}, {UserID: "v", StoreID: "s:u"}},
		{{UserID: "1:2", StoreID: ""}, {UserID: "2", StoreID: "0:1"}},
		{{UserID: ":", StoreID: ":"}, {UserID: "", StoreID: ":::"}},
	}
	for _, p := range pairs {
		assert.NotEqual(t, p[0].String(), p[1].String(), "%+v vs %+v", p[0], p[1])
	}

	assert.Equal(t, "2:S1:kasir-1", SessionKey{UserID: "kasir-1", StoreID: "S1"}.String())
}
