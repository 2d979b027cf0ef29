package tenure

import "time"

// eventKind clasifica un evento del historial respecto de los códigos consecutivos.
type eventKind int

const (
	eventNeutral eventKind = iota
	// eventJoin: el nuevo valor es un código consecutivo.
	eventJoin
	// eventExpiry: pasa de código consecutivo a uno que no lo es.
	eventExpiry
)

func classify(s Settings, ev ChangeEvent) eventKind {
	switch {
	case s.IsConsecutive(ev.NewValue):
		return eventJoin
	case s.IsConsecutive(ev.OriginalValue):
		return eventExpiry
	default:
		return eventNeutral
	}
}

// tracking es el estado "entró a la ventana como miembro" de cada GracePeriod.
type tracking int8

const (
	trackingUnset tracking = iota
	trackingMember
	trackingNonMember
)

// scanState es todo lo que se arrastra durante el recorrido hacia atrás.
type scanState struct {
	// marker: fecha más antigua que se sabe parte de una racha sin cortes.
	marker time.Time
	// extended: algún evento consecutivo movió el marker (o aplicó el fallback).
	extended bool

	currentlyMember bool
	allowTracking   []tracking
	joinMarker      *time.Time

	broken    bool
	stoppedAt *time.Time
}

// Infer calcula desde cuándo el miembro es consecutivo.
//
// Recorre el historial del más nuevo al más viejo. Un lapso se tolera si:
// cae en una fecha de excepción del miembro, es más corto que MaxLapse
// respecto del marker, o cae en una ventana de gracia a la que el miembro
// entró como miembro. Cualquier otro lapso corta el recorrido: nada anterior
// puede volver a formar una racha consecutiva.
//
// Sin ningún evento cuyo NewValue sea consecutivo el resultado queda sin
// resolver, salvo que haya una join date válida y el recorrido no se haya
// cortado: en ese caso gana la join date (fallback).
//
// Infer es pura: mismos inputs, mismo resultado.
func Infer(in InferenceInput) InferenceResult {
	s := in.Settings
	st := scanState{
		marker:          in.Now,
		currentlyMember: true,
		allowTracking:   make([]tracking, len(s.GracePeriods)),
	}
	exceptions := s.exceptionsFor(in.MemberID)
	nonMember := s.nonMemberCode()

scan:
	for _, ev := range in.History {
		kind := classify(s, ev)
		isException := exceptions.has(ev.ChangedAt)

		st.currentlyMember = kind == eventJoin || isException

		// La primera vez (hacia atrás) que caemos dentro de una ventana
		// queda fijado si estábamos como miembro.
		for i, gp := range s.GracePeriods {
			if st.allowTracking[i] == trackingUnset && gp.Contains(ev.ChangedAt) {
				if st.currentlyMember {
					st.allowTracking[i] = trackingMember
				} else {
					st.allowTracking[i] = trackingNonMember
				}
			}
		}

		// NM -> consecutivo real: el merge de contactos puede dejar un "miembro"
		// anterior engañoso, así que este alta suprime el fallback a la join date.
		if kind == eventJoin && ev.OriginalValue == nonMember && !isException {
			at := ev.ChangedAt
			st.joinMarker = &at
		}

		switch kind {
		case eventJoin:
			st.marker = ev.ChangedAt
			st.extended = true

		case eventExpiry:
			if isException {
				continue scan
			}
			if st.marker.Sub(ev.ChangedAt) < s.MaxLapse {
				st.marker = ev.ChangedAt
				continue scan
			}
			if st.insideMemberGrace(s.GracePeriods, ev.ChangedAt) {
				continue scan
			}
			at := ev.ChangedAt
			st.broken = true
			st.stoppedAt = &at
			break scan
		}
	}

	joinValid := in.OriginalJoinDate != nil
	if !st.broken && joinValid && st.joinMarker == nil {
		st.marker = *in.OriginalJoinDate
		st.extended = true
	}

	res := InferenceResult{
		Broken:     st.broken,
		StoppedAt:  st.stoppedAt,
		JoinMarker: st.joinMarker,
	}
	if !st.extended {
		return res
	}

	res.Resolved = true
	res.Since = st.marker
	if !joinValid {
		corrected := st.marker
		res.CorrectedJoinDate = &corrected
	}
	return res
}

func (st *scanState) insideMemberGrace(periods []GracePeriod, t time.Time) bool {
	for i, gp := range periods {
		if gp.Contains(t) && st.allowTracking[i] == trackingMember {
			return true
		}
	}
	return false
}
