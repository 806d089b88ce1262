package operation

import (
	"testing"

	"github.com/greut/iiifcache/geometry"
	"github.com/stretchr/testify/require"
)

func TestResultingSizeIgnoresInsertionOrder(t *testing.T) {
	full := geometry.NewDimension(300, 200)
	crop := mustPercentCrop(t, 0.5, 0.5, 0.5, 0.5)
	scale, err := NewPercentScale(0.5)
	require.NoError(t, err)

	a := NewList("cats.jpg", JPG)
	require.NoError(t, a.Add(crop))
	require.NoError(t, a.Add(scale))

	b := NewList("cats.jpg", JPG)
	require.NoError(t, b.Add(scale))
	require.NoError(t, b.Add(crop))

	for _, l := range []*List{a, b} {
		size := l.ResultingSize(full)
		if size.IntWidth() != 75 || size.IntHeight() != 50 {
			t.Errorf("%v: got %v want 75x50", l, size)
		}
	}

	if !a.Equal(b) {
		t.Errorf("lists should be equal: %v != %v", a, b)
	}
	if a.Compare(b) != 0 {
		t.Errorf("lists should compare equal")
	}

	// Determinism
	if a.ResultingSize(full) != a.ResultingSize(full) {
		t.Errorf("ResultingSize is not deterministic")
	}
}

func TestApplicationOrder(t *testing.T) {
	r, _ := NewRotate(90, false)
	s, _ := NewScaleToWidth(10)
	l := NewList("x.png", PNG,
		MetadataCopy{},
		ColorTransform{Gray},
		r,
		Overlay{Image: "o.png", Position: Center},
		s,
		Redaction{geometry.Rectangle{Width: 1, Height: 1}},
		NewFullCrop(),
	)

	want := []Kind{KindCrop, KindRedaction, KindScale, KindRotate, KindColorTransform, KindOverlay, KindMetadataCopy}
	ops := l.Operations()
	require.Len(t, ops, len(want))
	for i, op := range ops {
		if op.Kind() != want[i] {
			t.Errorf("position %d: got %v want %v", i, op.Kind(), want[i])
		}
	}
}

func TestIsNoOp(t *testing.T) {
	newList := func(rotate float64, crop Crop) *List {
		r, err := NewRotate(rotate, false)
		require.NoError(t, err)
		return NewList("identifier.gif", GIF, crop, NewFullScale(), r)
	}

	if !newList(0, NewFullCrop()).IsNoOp() {
		t.Errorf("full/full/0 gif to gif should be a no-op")
	}
	if newList(2, NewFullCrop()).IsNoOp() {
		t.Errorf("rotating by 2 degrees is not a no-op")
	}
	if newList(0, mustPercentCrop(t, 0, 0, 0.5, 0.5)).IsNoOp() {
		t.Errorf("cropping a sub-region is not a no-op")
	}

	l := newList(0, NewFullCrop())
	if l.IsNoOpFrom(PNG) {
		t.Errorf("png source to gif output is not a no-op")
	}
	if NewList("identifier", GIF).IsNoOp() {
		t.Errorf("unknown source format is never a no-op")
	}
}

func TestIsNoOpFor(t *testing.T) {
	full := geometry.NewDimension(300, 200)
	c, _ := NewPixelCrop(0, 0, 300, 200)
	s, _ := NewScaleToFit(300, 300)
	l := NewList("a.png", PNG, c, s)

	if l.IsNoOp() {
		t.Errorf("pixel crop is not a no-op without a size")
	}
	if !l.IsNoOpFor(full, PNG) {
		t.Errorf("crop and scale covering the image should be a no-op for %v", full)
	}

	red := Redaction{geometry.Rectangle{X: 0, Y: 0, Width: 10, Height: 10}}
	half, _ := NewPixelCrop(150, 100, 150, 100)
	l = NewList("a.png", PNG, half, red)
	ctx := Context{FullSize: full, InputSize: half.ResultingSize(full), List: l}
	if !red.IsNoOpIn(ctx) {
		t.Errorf("redaction outside of the crop should be a no-op")
	}
	l = NewList("a.png", PNG, NewFullCrop(), red)
	if l.IsNoOpFor(full, PNG) {
		t.Errorf("redaction inside the image is not a no-op")
	}
}

func TestFrozen(t *testing.T) {
	l := NewList("a.png", PNG)
	l.Freeze()
	require.True(t, l.IsFrozen())
	require.ErrorIs(t, l.Add(NewFullCrop()), ErrFrozen)
	require.ErrorIs(t, l.SetOption("k", "v"), ErrFrozen)
}

func TestString(t *testing.T) {
	crop, _ := NewPixelCrop(10, 20, 30, 40)
	scale, _ := NewScaleToFit(100, 50)
	r, _ := NewRotate(90, true)

	l := NewList("cats.jpg", PNG, ColorTransform{Gray}, r, scale, crop, NewFullScale())
	require.NoError(t, l.SetOption("zeta", "1"))
	require.NoError(t, l.SetOption("alpha", "b_c"))

	want := "cats.jpg_crop:10,20,30,40_scale:!100,50_rotate:!90_color:gray_alpha:b%5Fc_zeta:1.png"
	if got := l.String(); got != want {
		t.Errorf("got %q want %q", got, want)
	}

	noop := NewList("cats.jpg", JPG, NewFullCrop(), NewFullScale())
	if got, want := noop.Filename(), "cats.jpg.jpg"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestEqualComparesIdentifiers(t *testing.T) {
	crop, err := NewPixelCrop(1, 1, 1, 1)
	require.NoError(t, err)

	a := NewList("a", JPG, crop)
	b := NewList("a_crop:1,1,1,1", JPG)
	require.Equal(t, a.String(), b.String())

	if a.Equal(b) || b.Equal(a) {
		t.Errorf("%v and %v have different identifiers", a, b)
	}
	if a.Compare(b) == 0 || a.Compare(b) != -b.Compare(a) {
		t.Errorf("Compare should order %v and %v", a, b)
	}

	if NewList("a", JPG).Equal(NewList("a", PNG)) {
		t.Errorf("lists with different formats should differ")
	}
}

func TestValidate(t *testing.T) {
	full := geometry.NewDimension(300, 200)
	outside, _ := NewPixelCrop(300, 0, 10, 10)
	require.Error(t, NewList("a.png", PNG, outside).Validate(full))

	tiny, _ := NewPixelCrop(0, 0, 1, 1)
	quarter, _ := NewPercentScale(0.25)
	require.Error(t, NewList("a.png", PNG, tiny, quarter).Validate(full))

	ok, _ := NewPixelCrop(0, 0, 100, 100)
	require.NoError(t, NewList("a.png", PNG, ok, quarter).Validate(full))
}

func TestCanonicalMap(t *testing.T) {
	full := geometry.NewDimension(300, 200)
	crop := mustPercentCrop(t, 0.5, 0.5, 0.5, 0.5)
	l := NewList("a.png", JPG, NewFullScale(), crop)

	m := l.CanonicalMap(full)
	ops, ok := m["operations"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, ops, 1)
	if ops[0]["class"] != "Crop" || ops[0]["x"] != 150 || ops[0]["width"] != 150 {
		t.Errorf("unexpected crop map: %#v", ops[0])
	}
	if m["format"] != "jpg" {
		t.Errorf("format: got %v want jpg", m["format"])
	}
}

func TestFormat(t *testing.T) {
	var tests = []struct {
		in   string
		want Format
		ok   bool
	}{
		{"jpg", JPG, true},
		{".JPEG", JPG, true},
		{"tiff", TIF, true},
		{"webp", WEBP, true},
		{"psd", Unknown, false},
	}
	for _, test := range tests {
		f, ok := ParseFormat(test.in)
		if f != test.want || ok != test.ok {
			t.Errorf("ParseFormat(%q): got %v,%v want %v,%v", test.in, f, ok, test.want, test.ok)
		}
	}

	if f := InferFormat("dir/image.tif"); f != TIF {
		t.Errorf("InferFormat: got %v want tif", f)
	}
	if JPG.MediaType() != "image/jpeg" {
		t.Errorf("media type: got %v", JPG.MediaType())
	}
}
