package os32c

import "fmt"

// BeamMaskSize is the size of the beam selection attribute: 704 bits, one per
// beam, with the 27 bits above beam 676 always clear.
const BeamMaskSize = 88

// BeamMask selects beams by bit: bit i of the mask (byte i/8, bit i%8) selects
// beam i.
type BeamMask [BeamMaskSize]byte

// BeamSelection is the result of encoding an angular range: the mask written
// to the scanner and the centre angles of the first and last selected beams.
type BeamSelection struct {
	Mask       BeamMask
	StartAngle float64
	EndAngle   float64
}

// Selected reports whether beam is set in the mask.
func (m *BeamMask) Selected(beam int) bool {
	if beam < 0 || beam >= BeamCount {
		return false
	}
	return m[beam/8]&(1<<(beam%8)) != 0
}

// CalcBeamMask validates the requested scan range and builds the beam mask.
//
// startAngle is the counter-clockwise end of the range and must exceed
// endAngle by more than one increment. Beam range selection on the device is
// currently disabled: once the arguments validate, all 677 beams are selected
// and the returned angles are the centres of beams 0 and 676.
func CalcBeamMask(startAngle, endAngle float64) (BeamSelection, error) {
	if startAngle > AngleMax+AngleInc/2 {
		return BeamSelection{}, fmt.Errorf("%w: start angle %f is greater than max %f", ErrValidation, startAngle, AngleMax)
	}
	if endAngle < AngleMin-AngleInc/2 {
		return BeamSelection{}, fmt.Errorf("%w: end angle %f is less than min %f", ErrValidation, endAngle, AngleMin)
	}
	if startAngle-endAngle <= AngleInc {
		return BeamSelection{}, fmt.Errorf("%w: start angle %f must exceed end angle %f by more than one increment", ErrValidation, startAngle, endAngle)
	}

	// TODO(product): apply BeamForAngle(startAngle) / BeamForAngle(endAngle)
	// once partial beam selection is confirmed to work on the device.
	startBeam := 0
	endBeam := BeamCount - 1

	var sel BeamSelection
	if err := PackBeamMask(startBeam, endBeam, sel.Mask[:]); err != nil {
		return BeamSelection{}, err
	}
	sel.StartAngle = BeamCentre(startBeam)
	sel.EndAngle = BeamCentre(endBeam)
	return sel, nil
}

// PackBeamMask sets bits [startBeam, endBeam] of mask and clears every other
// bit. mask must be exactly BeamMaskSize bytes; nothing outside it is touched.
func PackBeamMask(startBeam, endBeam int, mask []byte) error {
	if len(mask) != BeamMaskSize {
		return fmt.Errorf("%w: beam mask must be %d bytes, got %d", ErrValidation, BeamMaskSize, len(mask))
	}
	if startBeam < 0 || endBeam >= BeamCount || startBeam > endBeam {
		return fmt.Errorf("%w: invalid beam range [%d, %d]", ErrValidation, startBeam, endBeam)
	}

	startByte, startBit := startBeam/8, startBeam%8
	endByte, endBit := endBeam/8, endBeam%8

	// whole bytes below the range
	clear(mask[:startByte])

	// a partial first byte keeps its high bits; otherwise the fill below covers it
	var first byte = 0xFF
	if startBit != 0 {
		first = ^byte(1<<startBit - 1)
		mask[startByte] = first
	} else {
		startByte--
	}

	for i := startByte + 1; i < endByte; i++ {
		mask[i] = 0xFF
	}

	last := byte(1<<(endBit+1) - 1)
	if startByte == endByte {
		// range starts and ends inside one byte
		last &= first
	}
	mask[endByte] = last

	clear(mask[endByte+1:])
	return nil
}
