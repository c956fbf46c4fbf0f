package run

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/citygrid/trafficsim/pkg/core"
)

func TestContext(t *testing.T) {
	c := NewContext()
	assert.NotNil(t, c.GetRun())
	assert.NotNil(t, c.GetCity())
	assert.Empty(t, c.GetRun().RunID)

	r := &core.Run{RunID: "run_9", CityName: "testville"}
	city := &core.City{Name: "testville"}
	c.SetRun(r, city)

	assert.Equal(t, "run_9", c.GetRun().RunID)
	assert.Equal(t, "testville", c.GetCity().Name)
}
