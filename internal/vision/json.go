package vision

import (
	"encoding/json"
	"fmt"
)

// Rect travels on the wire as a 4-element array [x1, y1, x2, y2].

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.X1, r.Y1, r.X2, r.Y2})
}

func (r *Rect) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("box must have 4 elements, got %d", len(arr))
	}
	r.X1, r.Y1, r.X2, r.Y2 = arr[0], arr[1], arr[2], arr[3]
	return nil
}
